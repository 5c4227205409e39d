// Stripe webhook intake. The route is NOT behind the bearer-auth
// middleware -- Stripe calls it directly, and authenticity comes from
// verifying the Stripe-Signature header against the signing secret.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"stockcast/internal/core"
	"stockcast/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads (64 KB). Real events are
// a few kilobytes.
const maxWebhookBodySize = 64 * 1024

// SubscriptionApplier synchronizes provider subscription state into the
// local database. Satisfied by *db.SubscriptionRepo.
type SubscriptionApplier interface {
	// Apply upserts the subscription and recomputes the owner's tier.
	// Returns false when the event is older than the stored state.
	Apply(ctx context.Context, sub types.Subscription) (bool, error)

	// FindUserByCustomer maps a Stripe customer ID to the local user.
	FindUserByCustomer(ctx context.Context, customerID string) (string, error)
}

// WebhookMetrics records applied/stale webhook outcomes.
type WebhookMetrics interface {
	RecordWebhook(ctx context.Context, eventType string, applied bool)
}

// StripeWebhookHandler processes asynchronous billing events from Stripe.
type StripeWebhookHandler struct {
	subs    SubscriptionApplier
	metrics WebhookMetrics
	secret  string
	logger  *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. metrics may be nil.
func NewStripeWebhookHandler(
	subs SubscriptionApplier,
	metrics WebhookMetrics,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		subs:    subs,
		metrics: metrics,
		secret:  secret,
		logger:  logger,
	}
}

// RegisterRoutes mounts the webhook endpoint; the caller mounts the group
// under /webhooks, outside the bearer-auth scope.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// stripeSubscriptionPayload is the subset of the subscription object the
// sync needs. Webhook payloads carry the customer as a plain ID string.
type stripeSubscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// stripeCheckoutPayload is the subset of the checkout session object used
// to confirm a new subscription.
type stripeCheckoutPayload struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// Handle processes POST /webhooks/stripe.
//
// Bad signatures and malformed payloads are rejected with 400 so Stripe
// retries against a fixed endpoint. Everything else -- including unhandled
// event types and internal apply failures -- is acknowledged with 200;
// apply failures are logged for investigation rather than bounced into a
// Stripe retry loop.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err.Error())
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationWebhookSignature,
			"failed to read request body",
			err,
		))
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err.Error())
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationWebhookSignature,
			"webhook signature verification failed",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err.Error(),
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)

	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		return h.handleSubscriptionEvent(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted confirms a fresh subscription after the user
// finishes the Checkout flow. The customer.subscription.created event that
// follows carries the full state; this apply just flips the tier promptly.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripeCheckoutPayload
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("checkout.session.completed: parse payload: %w", err)
	}
	if session.Subscription == "" {
		// One-time payments carry no subscription; nothing to sync.
		return nil
	}

	userID, err := h.resolveUserID(ctx, session.Metadata, session.ClientReferenceID, session.Customer)
	if err != nil {
		return fmt.Errorf("checkout.session.completed %s: %w", event.ID, err)
	}

	return h.apply(ctx, string(event.Type), types.Subscription{
		ProviderSubscriptionID: session.Subscription,
		UserID:                 userID,
		ProviderCustomerID:     session.Customer,
		Status:                 types.SubStatusActive,
		LastEventAt:            time.Unix(event.Created, 0).UTC(),
	})
}

func (h *StripeWebhookHandler) handleSubscriptionEvent(ctx context.Context, event *stripe.Event) error {
	var payload stripeSubscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return fmt.Errorf("%s: parse payload: %w", event.Type, err)
	}

	userID, err := h.resolveUserID(ctx, payload.Metadata, "", payload.Customer)
	if err != nil {
		return fmt.Errorf("%s %s: %w", event.Type, event.ID, err)
	}

	return h.apply(ctx, string(event.Type), types.Subscription{
		ProviderSubscriptionID: payload.ID,
		UserID:                 userID,
		ProviderCustomerID:     payload.Customer,
		Status:                 types.SubscriptionStatus(payload.Status),
		CurrentPeriodStart:     time.Unix(payload.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:       time.Unix(payload.CurrentPeriodEnd, 0).UTC(),
		LastEventAt:            time.Unix(event.Created, 0).UTC(),
	})
}

// resolveUserID finds the local account for an event: explicit metadata
// first, then the checkout client reference, then the stored customer
// mapping from an earlier event.
func (h *StripeWebhookHandler) resolveUserID(ctx context.Context, metadata map[string]string, clientRef, customerID string) (string, error) {
	if id := metadata["user_id"]; id != "" {
		return id, nil
	}
	if clientRef != "" {
		return clientRef, nil
	}
	if customerID == "" {
		return "", fmt.Errorf("no user reference in event")
	}
	return h.subs.FindUserByCustomer(ctx, customerID)
}

func (h *StripeWebhookHandler) apply(ctx context.Context, eventType string, sub types.Subscription) error {
	applied, err := h.subs.Apply(ctx, sub)
	if err != nil {
		return err
	}

	if !applied {
		h.logger.InfoContext(ctx, "discarding stale subscription event",
			"subscription_id", sub.ProviderSubscriptionID,
			"event_at", sub.LastEventAt,
		)
	}
	if h.metrics != nil {
		h.metrics.RecordWebhook(ctx, eventType, applied)
	}
	return nil
}
