package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	apierrors "licensed/internal/errors"
	"licensed/internal/middleware"
)

// EntitlementsResponse describes what the gated caller is licensed for.
type EntitlementsResponse struct {
	ClientID         string    `json:"client_id"`
	ApplicationID    string    `json:"application_id"`
	SubscriptionType string    `json:"subscription_type"`
	ValidTill        time.Time `json:"valid_till"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Entitlements handles GET /api/app/entitlements. It must be mounted behind
// middleware.LicenseGate.
func Entitlements(w http.ResponseWriter, r *http.Request) {
	result, ok := middleware.LicenseFromContext(r.Context())
	if !ok || result.License == nil {
		render.Render(w, r, apierrors.ErrInvalidLicense)
		return
	}

	rec := result.License
	render.JSON(w, r, EntitlementsResponse{
		ClientID:         rec.ClientID,
		ApplicationID:    rec.ApplicationID,
		SubscriptionType: rec.SubscriptionType,
		ValidTill:        rec.ValidTill,
		CheckedAt:        result.CheckedAt,
	})
}
