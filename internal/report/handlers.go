package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/sale"
)

// Handler exposes report read endpoints.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// Sales returns the summary for ?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "report service not configured", nil)
		return
	}
	from, to, err := h.Svc.Range(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	out, err := h.Svc.Summary(r.Context(), from, to)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

var exportHeader = []string{
	"Sale Number", "Date", "Customer", "Payment Method", "Subtotal",
	"Total", "Payment Received", "Change", "Status", "Notes",
}

// Export streams the sales of a range as CSV.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "report service not configured", nil)
		return
	}
	from, to, err := h.Svc.Range(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	sales, err := h.Svc.Sales(r.Context(), from, to)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	name := fmt.Sprintf("Sales_Report_%s_to_%s.csv", from.Format(time.DateOnly), to.Format(time.DateOnly))
	rows := make([][]string, 0, len(sales))
	for _, sl := range sales {
		rows = append(rows, exportRow(sl, h.Svc.location()))
	}
	h.sendCSV(w, name, exportHeader, rows)
}

// Products returns the stock report.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "report service not configured", nil)
		return
	}
	out, err := h.Svc.ProductsReport(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

var productsHeader = []string{"SKU", "Name", "Price", "Stock", "Min Stock", "Status", "Created"}

// ProductsExport streams the stock report as CSV.
func (h *Handler) ProductsExport(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "report service not configured", nil)
		return
	}
	out, err := h.Svc.ProductsReport(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	loc := h.Svc.location()
	rows := make([][]string, 0, len(out.Products))
	for _, p := range out.Products {
		rows = append(rows, []string{
			p.SKU,
			p.Name,
			strconv.FormatFloat(p.Price, 'f', 2, 64),
			strconv.Itoa(p.StockQuantity),
			strconv.Itoa(p.MinStockLevel),
			p.Status,
			p.CreatedAt.In(loc).Format("2/1/2006"),
		})
	}
	h.sendCSV(w, "Products_Report_"+out.Date+".csv", productsHeader, rows)
}

// sendCSV writes an attachment. Headers are already sent when a write fails,
// so the failure can only be logged.
func (h *Handler) sendCSV(w http.ResponseWriter, name string, header []string, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if err := writeCSV(w, header, rows); err != nil {
		h.Logger.Error().Err(err).Str("file", name).Msg("write csv export")
	}
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportRow(sl sale.Sale, loc *time.Location) []string {
	customer := sl.CustomerName
	if customer == "" {
		customer = "Walk-in"
	}
	status := string(sl.InvoiceStatus)
	if status == "" {
		status = string(sale.InvoicePaid)
	}
	money := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	return []string{
		sl.SaleNumber,
		sl.CreatedAt.In(loc).Format("2/1/2006 15:04"),
		customer,
		string(sl.PaymentMethod),
		money(sl.Subtotal),
		money(sl.TotalAmount),
		money(sl.PaymentReceived),
		money(sl.ChangeAmount),
		status,
		sl.Notes,
	}
}
