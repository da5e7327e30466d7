package sale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists sales in PostgreSQL.
type PGStore struct {
	Pool   *pgxpool.Pool
	Prefix string
	Now    func() time.Time
}

const saleColumns = `id, sale_number, customer_name, cashier_name, payment_method, payment_received,
	change_amount, subtotal, total_amount, invoice_status, notes, created_at, updated_at`

const lineColumns = `id, sale_id, product_id, product_name, unit_price, quantity, discount_percent, subtotal`

func (s *PGStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// SaleNumber formats the human sale number for seq issued at t.
func SaleNumber(prefix string, t time.Time, seq int64) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "INV"
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, t.Format("20060102"), seq%10000)
}

// Create writes the sale, its lines and the stock movements in one transaction.
func (s *PGStore) Create(ctx context.Context, sl Sale, movements []StockMovement) (Sale, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Sale{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('sale_number_seq')`).Scan(&seq); err != nil {
		return Sale{}, fmt.Errorf("next sale number: %w", err)
	}
	now := s.now()
	sl.ID = uuid.New()
	sl.SaleNumber = SaleNumber(s.Prefix, now, seq)
	sl.CreatedAt = now
	sl.UpdatedAt = now

	_, err = tx.Exec(ctx, `INSERT INTO sales (`+saleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sl.ID, sl.SaleNumber, sl.CustomerName, sl.CashierName, string(sl.PaymentMethod), sl.PaymentReceived,
		sl.ChangeAmount, sl.Subtotal, sl.TotalAmount, string(sl.InvoiceStatus), sl.Notes, sl.CreatedAt, sl.UpdatedAt)
	if err != nil {
		return Sale{}, fmt.Errorf("insert sale: %w", err)
	}
	if err := insertLines(ctx, tx, &sl); err != nil {
		return Sale{}, err
	}

	for _, m := range movements {
		tag, err := tx.Exec(ctx,
			`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = $3
			 WHERE id = $1 AND stock_quantity >= $2`,
			m.ProductID, m.Quantity, now)
		if err != nil {
			return Sale{}, mapStockErr(err)
		}
		if tag.RowsAffected() == 0 {
			return Sale{}, fmt.Errorf("%w: product %s", ErrOutOfStock, m.ProductID)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO stock_movements (id, product_id, sale_id, quantity, reason, created_at)
			 VALUES ($1, $2, $3, $4, 'sale', $5)`,
			uuid.New(), m.ProductID, sl.ID, -m.Quantity, now)
		if err != nil {
			return Sale{}, fmt.Errorf("insert stock movement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Sale{}, err
	}
	return sl, nil
}

// ReplaceLines overwrites every line and the derived totals of an existing sale.
func (s *PGStore) ReplaceLines(ctx context.Context, sl Sale) (Sale, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Sale{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	sl.UpdatedAt = s.now()
	tag, err := tx.Exec(ctx,
		`UPDATE sales SET payment_received = $2, change_amount = $3, subtotal = $4, total_amount = $5, updated_at = $6
		 WHERE id = $1`,
		sl.ID, sl.PaymentReceived, sl.ChangeAmount, sl.Subtotal, sl.TotalAmount, sl.UpdatedAt)
	if err != nil {
		return Sale{}, fmt.Errorf("update sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Sale{}, ErrSaleNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sl.ID); err != nil {
		return Sale{}, fmt.Errorf("delete sale items: %w", err)
	}
	if err := insertLines(ctx, tx, &sl); err != nil {
		return Sale{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Sale{}, err
	}
	return sl, nil
}

func insertLines(ctx context.Context, tx pgx.Tx, sl *Sale) error {
	batch := &pgx.Batch{}
	for i := range sl.Lines {
		sl.Lines[i].ID = uuid.New()
		l := sl.Lines[i]
		batch.Queue(`INSERT INTO sale_items (`+lineColumns+`, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			l.ID, sl.ID, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity, l.DiscountPercent, l.Subtotal, i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert sale items: %w", err)
	}
	return nil
}

// Get loads a sale and its lines in entry order.
func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (Sale, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	if err != nil {
		return Sale{}, fmt.Errorf("get sale: %w", err)
	}
	sl, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("scan sale: %w", err)
	}
	lines, err := s.lines(ctx, []uuid.UUID{sl.ID})
	if err != nil {
		return Sale{}, err
	}
	sl.Lines = lines[sl.ID]
	return sl, nil
}

// ListBetween returns the sales created in [from, to], newest first.
func (s *PGStore) ListBetween(ctx context.Context, from, to time.Time) ([]Sale, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE created_at >= $1 AND created_at <= $2 ORDER BY created_at DESC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	sales, err := pgx.CollectRows(rows, scanSale)
	if err != nil {
		return nil, fmt.Errorf("scan sales: %w", err)
	}
	if len(sales) == 0 {
		return sales, nil
	}
	ids := make([]uuid.UUID, len(sales))
	for i := range sales {
		ids[i] = sales[i].ID
	}
	lines, err := s.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

func (s *PGStore) lines(ctx context.Context, saleIDs []uuid.UUID) (map[uuid.UUID][]Line, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+lineColumns+` FROM sale_items WHERE sale_id = ANY($1) ORDER BY sale_id, position`, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	out := make(map[uuid.UUID][]Line, len(saleIDs))
	var (
		l      Line
		saleID uuid.UUID
	)
	_, err = pgx.ForEachRow(rows,
		[]any{&l.ID, &saleID, &l.ProductID, &l.ProductName, &l.UnitPrice, &l.Quantity, &l.DiscountPercent, &l.Subtotal},
		func() error {
			line := l
			if l.ProductID != nil {
				pid := *l.ProductID
				line.ProductID = &pid
			}
			out[saleID] = append(out[saleID], line)
			l.ProductID = nil
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("scan sale items: %w", err)
	}
	return out, nil
}

func scanSale(row pgx.CollectableRow) (Sale, error) {
	var (
		sl     Sale
		method string
		status string
	)
	err := row.Scan(&sl.ID, &sl.SaleNumber, &sl.CustomerName, &sl.CashierName, &method, &sl.PaymentReceived,
		&sl.ChangeAmount, &sl.Subtotal, &sl.TotalAmount, &status, &sl.Notes, &sl.CreatedAt, &sl.UpdatedAt)
	sl.PaymentMethod = PaymentMethod(method)
	sl.InvoiceStatus = InvoiceStatus(status)
	return sl, err
}

func mapStockErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
		return fmt.Errorf("%w: %s", ErrOutOfStock, pgErr.ConstraintName)
	}
	return fmt.Errorf("decrement stock: %w", err)
}
