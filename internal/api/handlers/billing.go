package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stockcast/internal/core"
	"stockcast/internal/external"
	"stockcast/internal/types"
)

// BillingHandler starts the Stripe Checkout flow for PRO upgrades.
type BillingHandler struct {
	billing     external.BillingService
	users       UserDirectory
	frontendURL string
	logger      *slog.Logger
}

// NewBillingHandler creates a BillingHandler. frontendURL is the public
// site base used to build checkout redirect targets.
func NewBillingHandler(
	billing external.BillingService,
	users UserDirectory,
	frontendURL string,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		billing:     billing,
		users:       users,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// RegisterRoutes mounts the billing endpoints.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/subscribe", h.HandleSubscribe)
}

type subscribeResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// HandleSubscribe handles POST /v1/subscribe.
//
// The tier check reads the current database row rather than the actor
// snapshot, so a webhook-applied upgrade between token resolution and this
// call is not double-sold.
func (h *BillingHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	user, err := h.users.GetByID(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if user.IsPro {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationAlreadyPro,
			"account already has an active PRO subscription",
			nil,
		))
		return
	}

	urls := types.RedirectURLs{
		Success: h.frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		Cancel:  h.frontendURL + "/billing/cancelled",
	}

	checkoutURL, sessionID, err := h.billing.CreateCheckoutSession(r.Context(), actor.UserID, urls)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"user_id", actor.UserID,
		"session_id", sessionID,
	)

	core.JSON(w, r, http.StatusOK, subscribeResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
	})
}
