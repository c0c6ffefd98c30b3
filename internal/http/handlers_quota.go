package httpx

import (
	"errors"
	"net/http"

	"github.com/sublead/sublead-api/internal/data"
	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
	"github.com/sublead/sublead-api/internal/service"
)

// QuotaHandlers provides HTTP handlers for quota visibility.
type QuotaHandlers struct {
	Svc *service.QuotaService
}

// GetQuota returns the caller's current quota consumption.
func (h *QuotaHandlers) GetQuota(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		WriteAppError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	rec, err := h.Svc.Get(r.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, data.ErrQuotaNotFound) {
			// No ledger row yet means nothing consumed this period.
			WriteJSON(w, http.StatusOK, map[string]any{
				"tier": sess.Tier,
				"used": 0,
			})
			return
		}
		WriteAppError(w, err)
		return
	}

	resp := map[string]any{
		"tier": rec.Tier,
		"used": rec.Used,
	}
	if rec.Limit != model.UnlimitedQuota {
		resp["limit"] = rec.Limit
	}
	WriteJSON(w, http.StatusOK, resp)
}
