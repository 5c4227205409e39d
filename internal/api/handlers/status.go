package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stockcast/internal/core"
	"stockcast/internal/types"
)

// UserDirectory is the account lookup the status handler depends on.
// Satisfied by *db.UserRepo.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// StatusHandler serves the caller's account and allowance snapshot.
type StatusHandler struct {
	users     UserDirectory
	admission AdmissionService
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(users UserDirectory, admission AdmissionService, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{
		users:     users,
		admission: admission,
		logger:    logger,
	}
}

// RegisterRoutes mounts the status endpoint.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/user/status", h.HandleStatus)
}

type statusUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	IsPro    bool   `json:"is_pro"`
}

type statusQuota struct {
	UsedToday int  `json:"used_today"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

type statusSubscription struct {
	Tier     types.Tier `json:"tier"`
	Features []string   `json:"features"`
}

type statusResponse struct {
	User         statusUser         `json:"user"`
	Quota        statusQuota        `json:"quota"`
	Subscription statusSubscription `json:"subscription"`
}

// tierFeatures is the client-facing feature list per tier, shown in
// account screens and the bot's /status reply.
func tierFeatures(tier types.Tier) []string {
	if tier == types.TierPro {
		return []string{"unlimited_predictions", "priority_processing"}
	}
	return []string{"daily_predictions"}
}

// HandleStatus handles GET /v1/user/status. Returns 404 when the actor's
// account row no longer exists.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
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

	snap, err := h.admission.Status(r.Context(), actor)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	setAllowanceHeaders(w, actor, snap.Limit, snap.Remaining, snap.Unlimited, snap.ResetsAt)

	core.JSON(w, r, http.StatusOK, statusResponse{
		User: statusUser{
			Username: user.Username,
			Email:    user.Email,
			IsPro:    user.IsPro,
		},
		Quota: statusQuota{
			UsedToday: snap.Used,
			Limit:     snap.Limit,
			Remaining: snap.Remaining,
			Unlimited: snap.Unlimited,
		},
		Subscription: statusSubscription{
			Tier:     user.Tier(),
			Features: tierFeatures(user.Tier()),
		},
	})
}
