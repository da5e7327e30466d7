package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads products from PostgreSQL.
type PGStore struct {
	Pool *pgxpool.Pool
}

const productColumns = `id, sku, name, price, stock_quantity, min_stock_level, is_active, created_at`

// ListProducts returns a page of products ordered by name and the total count.
func (s PGStore) ListProducts(ctx context.Context, sellableOnly bool, limit, offset int) ([]Product, int, error) {
	where := ""
	if sellableOnly {
		where = " WHERE is_active AND stock_quantity > 0"
	}
	var total int
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM products`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT `+productColumns+` FROM products`+where+` ORDER BY name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, 0, fmt.Errorf("scan products: %w", err)
	}
	return products, total, nil
}

// ListByStock returns every product, active or not, lowest stock first.
func (s PGStore) ListByStock(ctx context.Context) ([]Product, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY stock_quantity ASC, name`)
	if err != nil {
		return nil, fmt.Errorf("list products by stock: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	return products, nil
}

// GetProducts loads the products with the given ids keyed by id.
func (s PGStore) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func scanProduct(row pgx.CollectableRow) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockQuantity, &p.MinStockLevel, &p.Active, &p.CreatedAt)
	return p, err
}
