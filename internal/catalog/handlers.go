package catalog

import (
	"net/http"
	"strconv"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler exposes catalog endpoints.
type Handler struct {
	Svc *Service
}

// Products handles GET /api/v1/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, h.Svc.DefaultLimit, h.Svc.MaxLimit)
	out, err := h.Svc.List(r.Context(), page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(out.Total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": out.Products,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: out.Total,
		},
	})
}
