package sale

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

var (
	// ErrSaleNotFound is returned when a sale id does not exist.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrOutOfStock is returned when a line asks for more units than are on hand.
	ErrOutOfStock = errors.New("insufficient stock")
	// ErrEmptyCart is returned when a sale has no lines.
	ErrEmptyCart = errors.New("cart is empty")
)

// PaymentMethod is how the customer settled the sale.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentQRIS     PaymentMethod = "qris"
	PaymentDebit    PaymentMethod = "debit"
	PaymentCredit   PaymentMethod = "credit"
)

// ParsePaymentMethod normalises a payment method, defaulting to cash.
func ParsePaymentMethod(v string) (PaymentMethod, bool) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(v))); m {
	case "":
		return PaymentCash, true
	case PaymentCash, PaymentTransfer, PaymentQRIS, PaymentDebit, PaymentCredit:
		return m, true
	default:
		return "", false
	}
}

// InvoiceStatus tracks whether the invoice has been paid.
type InvoiceStatus string

const (
	InvoicePaid   InvoiceStatus = "lunas"
	InvoiceUnpaid InvoiceStatus = "belum_bayar"
)

func statusFor(m PaymentMethod) InvoiceStatus {
	if m == PaymentCredit {
		return InvoiceUnpaid
	}
	return InvoicePaid
}

// Line is a persisted sale item. Subtotal is the line total computed when the
// line was last written.
type Line struct {
	ID              uuid.UUID  `json:"id"`
	ProductID       *uuid.UUID `json:"productId,omitempty"`
	ProductName     string     `json:"productName"`
	UnitPrice       float64    `json:"unitPrice"`
	Quantity        int        `json:"quantity"`
	DiscountPercent float64    `json:"discountPercent"`
	Subtotal        float64    `json:"subtotal"`
}

// Input returns the pricing triple stored on the line.
func (l Line) Input() pricing.LineInput {
	return pricing.LineInput{UnitPrice: l.UnitPrice, Quantity: l.Quantity, DiscountPercent: l.DiscountPercent}
}

// Sale is a finalized checkout. TotalAmount is always the grand total of its
// lines at the time they were last written.
type Sale struct {
	ID              uuid.UUID     `json:"id"`
	SaleNumber      string        `json:"saleNumber"`
	CustomerName    string        `json:"customerName,omitempty"`
	CashierName     string        `json:"cashierName,omitempty"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	PaymentReceived float64       `json:"paymentReceived"`
	ChangeAmount    float64       `json:"changeAmount"`
	Subtotal        float64       `json:"subtotal"`
	TotalAmount     float64       `json:"totalAmount"`
	InvoiceStatus   InvoiceStatus `json:"invoiceStatus"`
	Notes           string        `json:"notes,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Lines           []Line        `json:"lines"`
}

// Inputs returns the pricing inputs of every line in order.
func (s Sale) Inputs() []pricing.LineInput {
	out := make([]pricing.LineInput, len(s.Lines))
	for i, l := range s.Lines {
		out[i] = l.Input()
	}
	return out
}

// StockMovement records stock leaving the shop for a sale.
type StockMovement struct {
	ProductID uuid.UUID
	Quantity  int
}

// Store persists sales. Implementations must write a sale, its lines and the
// stock decrements atomically.
type Store interface {
	Create(ctx context.Context, s Sale, movements []StockMovement) (Sale, error)
	Get(ctx context.Context, id uuid.UUID) (Sale, error)
	ReplaceLines(ctx context.Context, s Sale) (Sale, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Sale, error)
}

func buildNotes(cashier, bankDetails string) string {
	cashier = strings.TrimSpace(cashier)
	bankDetails = strings.TrimSpace(bankDetails)
	switch {
	case cashier != "" && bankDetails != "":
		return "Sales: " + cashier + " | Bank Details: " + bankDetails
	case cashier != "":
		return "Sales: " + cashier
	case bankDetails != "":
		return "Bank Details: " + bankDetails
	}
	return ""
}

// CashierFromNotes extracts the cashier name written by checkout, or "Unknown".
func CashierFromNotes(notes string) string {
	_, rest, ok := strings.Cut(notes, "Sales:")
	if !ok {
		return "Unknown"
	}
	name, _, _ := strings.Cut(rest, "|")
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "Unknown"
}
