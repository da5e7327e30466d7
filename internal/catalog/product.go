package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrProductNotFound is returned when a referenced product does not exist.
var ErrProductNotFound = errors.New("catalog: product not found")

// Product is a sellable catalog entry. Price already includes PPN.
type Product struct {
	ID            uuid.UUID `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	StockQuantity int       `json:"stockQuantity"`
	MinStockLevel int       `json:"minStockLevel"`
	Active        bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// LowStock reports whether the product is at or below its reorder level.
func (p Product) LowStock() bool {
	return p.StockQuantity <= p.MinStockLevel
}

// Status is the label printed in stock reports.
func (p Product) Status() string {
	if p.Active {
		return "Active"
	}
	return "Inactive"
}

// Store reads catalog records. ListProducts with sellableOnly keeps active
// products that still have stock.
type Store interface {
	ListProducts(ctx context.Context, sellableOnly bool, limit, offset int) ([]Product, int, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	ListByStock(ctx context.Context) ([]Product, error)
}
