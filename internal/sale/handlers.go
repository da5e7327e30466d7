package sale

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/receipt"
)

// Handler exposes the sale workflows over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type editPayload struct {
	Lines []EditLine `json:"lines" validate:"required,min=1,dive"`
}

type quotePayload struct {
	Policy *pricing.DiscountPolicy `json:"discountPolicy"`
	Lines  []struct {
		UnitPrice       float64 `json:"unitPrice" validate:"gte=0"`
		Quantity        int     `json:"quantity" validate:"gt=0"`
		DiscountPercent float64 `json:"discountPercent"`
	} `json:"lines" validate:"required,min=1,dive"`
}

// Checkout finalizes a cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "sale service not configured", nil)
		return
	}
	var payload CheckoutInput
	if !h.decode(w, r, &payload) {
		return
	}
	out, err := h.Svc.Checkout(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}

// Get returns a sale with its lines.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := saleID(w, r)
	if !ok {
		return
	}
	out, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// EditItems replaces the lines of a sale and overwrites its totals.
func (h *Handler) EditItems(w http.ResponseWriter, r *http.Request) {
	id, ok := saleID(w, r)
	if !ok {
		return
	}
	var payload editPayload
	if !h.decode(w, r, &payload) {
		return
	}
	out, err := h.Svc.EditItems(r.Context(), id, payload.Lines)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// Invoice returns the printable document of a sale. Visibility flags are
// read from the showAmount, showDppFaktur, showDiscount and showPpn query
// parameters; absent flags keep the reprint defaults.
func (h *Handler) Invoice(w http.ResponseWriter, r *http.Request) {
	id, ok := saleID(w, r)
	if !ok {
		return
	}
	vis := receipt.DefaultVisibility
	q := r.URL.Query()
	for key, dst := range map[string]*bool{
		"showAmount":    &vis.ShowAmount,
		"showDppFaktur": &vis.ShowDPPFaktur,
		"showDiscount":  &vis.ShowDiscount,
		"showPpn":       &vis.ShowPPN,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, key+" must be a boolean", nil)
			return
		}
		*dst = v
	}
	doc, err := h.Svc.Invoice(r.Context(), id, vis)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{
		"document":    doc,
		"visibleRows": doc.VisibleRows(),
	})
}

// Quote previews cart totals without persisting anything.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var payload quotePayload
	if !h.decode(w, r, &payload) {
		return
	}
	lines := make([]pricing.LineInput, len(payload.Lines))
	for i, l := range payload.Lines {
		lines[i] = pricing.LineInput{UnitPrice: l.UnitPrice, Quantity: l.Quantity, DiscountPercent: l.DiscountPercent}
	}
	out, err := h.Svc.Quote(lines, payload.Policy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate == nil {
		return true
	}
	if err := h.Validate.Struct(dst); err != nil {
		var fields []map[string]string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, map[string]string{"field": fe.Namespace(), "rule": fe.Tag()})
			}
		}
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid payload", fields)
		return false
	}
	return true
}

func saleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "sale not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSaleNotFound):
		common.WriteError(w, common.NotFound("sale not found"))
	case errors.Is(err, catalog.ErrProductNotFound):
		common.WriteError(w, common.NotFound("product not found"))
	case errors.Is(err, ErrOutOfStock):
		common.WriteError(w, common.NewAppError(common.CodeOutOfStock, err.Error(), http.StatusConflict, err))
	case errors.Is(err, ErrPaymentInsufficient):
		common.WriteError(w, common.NewAppError(common.CodePaymentInsufficient, err.Error(), http.StatusUnprocessableEntity, err))
	case errors.Is(err, ErrEmptyCart), errors.Is(err, pricing.ErrInvalidInput):
		common.WriteError(w, common.Validation(err.Error(), err))
	default:
		common.WriteError(w, err)
	}
}
