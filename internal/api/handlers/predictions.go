// Package handlers contains the HTTP handler implementations for the
// StockCast API: prediction dispatch and history, account status, Stripe
// checkout, and the Stripe webhook intake.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"stockcast/internal/core"
	"stockcast/internal/external"
	"stockcast/internal/quota"
	"stockcast/internal/types"
)

// AdmissionService is the gate every prediction request passes through.
// Matches *quota.Controller but is defined locally so handler tests can
// stub it.
type AdmissionService interface {
	Admit(ctx context.Context, actor types.Actor, charge types.ChargePolicy) (quota.Decision, error)
	Status(ctx context.Context, actor types.Actor) (types.QuotaSnapshot, error)
}

// PredictionStore is the persistence contract for prediction records.
// Satisfied by *db.PredictionRepo.
type PredictionStore interface {
	Insert(ctx context.Context, userID, ticker string, channel types.Channel) (*types.Prediction, error)
	MarkCompleted(ctx context.Context, id string, metrics types.JSONB, plotURLs []string) error
	MarkFailed(ctx context.Context, id string) error
	List(ctx context.Context, filters types.ListFilters) (*types.ListResponse[types.Prediction], error)
}

// TaskEnqueuer dispatches prediction work to the background queue.
// Satisfied by *queue.PredictTrigger.
type TaskEnqueuer interface {
	EnqueuePrediction(ctx context.Context, taskID string, actor types.Actor, ticker string, charge types.ChargePolicy, chatID int64) error
}

// PredictionHandler maps HTTP requests onto the prediction pipeline.
//
// When an enqueuer is configured, admitted requests are dispatched to SQS
// and answered 202; otherwise the model call runs inline and the stored
// record is returned with 201. The API channel charges quota on attempt,
// before dispatch: a task lost after enqueue is not refunded.
type PredictionHandler struct {
	admission AdmissionService
	store     PredictionStore
	enqueuer  TaskEnqueuer
	predictor external.PredictorService
	logger    *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler. enqueuer may be nil
// for single-box deployments without a queue.
func NewPredictionHandler(
	admission AdmissionService,
	store PredictionStore,
	enqueuer TaskEnqueuer,
	predictor external.PredictorService,
	logger *slog.Logger,
) *PredictionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionHandler{
		admission: admission,
		store:     store,
		enqueuer:  enqueuer,
		predictor: predictor,
		logger:    logger,
	}
}

// RegisterRoutes mounts the prediction endpoints. All routes assume the
// authentication middleware is already applied.
func (h *PredictionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/predict", h.HandlePredict)
	r.Get("/predictions", h.HandleList)
}

type predictRequest struct {
	Ticker string `json:"ticker"`
}

type predictAcceptedResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
	Ticker  string `json:"ticker"`
}

// HandlePredict handles POST /v1/predict.
func (h *PredictionHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	var req predictRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	ticker := types.NormalizeTicker(req.Ticker)
	if err := types.ValidateTicker(ticker); err != nil {
		core.Error(w, r, err)
		return
	}

	decision, err := h.admission.Admit(r.Context(), actor, types.ChargeOnAttempt)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	setAllowanceHeaders(w, actor, decision.Limit, decision.Remaining, decision.Unlimited, decision.ResetAt)

	if !decision.Allowed {
		h.logger.InfoContext(r.Context(), "prediction request denied",
			"user_id", actor.UserID,
			"ticker", ticker,
			"reason", decision.Reason,
		)
		core.Error(w, r, denialError(decision))
		return
	}

	pred, err := h.store.Insert(r.Context(), actor.UserID, ticker, actor.Channel)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if h.enqueuer != nil {
		h.dispatchQueued(w, r, actor, pred)
		return
	}
	h.runInline(w, r, pred)
}

// dispatchQueued hands the task to SQS and acknowledges with 202. The quota
// unit is already consumed; an enqueue failure surfaces as 500 without a
// refund, which matches the attempt-charging policy.
func (h *PredictionHandler) dispatchQueued(w http.ResponseWriter, r *http.Request, actor types.Actor, pred *types.Prediction) {
	err := h.enqueuer.EnqueuePrediction(r.Context(), pred.ID, actor, pred.Ticker, types.ChargeOnAttempt, 0)
	if err != nil {
		if markErr := h.store.MarkFailed(r.Context(), pred.ID); markErr != nil {
			h.logger.ErrorContext(r.Context(), "failed to mark prediction failed after enqueue error",
				"task_id", pred.ID,
				"error", markErr.Error(),
			)
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, predictAcceptedResponse{
		Message: "prediction queued",
		TaskID:  pred.ID,
		Ticker:  pred.Ticker,
	})
}

// runInline executes the model call in-request and returns the completed
// record with 201.
func (h *PredictionHandler) runInline(w http.ResponseWriter, r *http.Request, pred *types.Prediction) {
	result, err := h.predictor.Predict(r.Context(), pred.Ticker)
	if err != nil {
		if markErr := h.store.MarkFailed(r.Context(), pred.ID); markErr != nil {
			h.logger.ErrorContext(r.Context(), "failed to mark prediction failed",
				"task_id", pred.ID,
				"error", markErr.Error(),
			)
		}
		core.Error(w, r, err)
		return
	}

	if err := h.store.MarkCompleted(r.Context(), pred.ID, result.Metrics, result.PlotURLs); err != nil {
		core.Error(w, r, err)
		return
	}

	pred.Status = types.PredictionCompleted
	pred.Metrics = result.Metrics
	pred.PlotURLs = result.PlotURLs

	core.JSON(w, r, http.StatusCreated, pred)
}

// HandleList handles GET /v1/predictions. Query params: limit, cursor,
// ticker (all optional). Results are the caller's own history, newest first.
func (h *PredictionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		))
		return
	}

	q := r.URL.Query()

	limit := 0
	if limitStr := q.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be an integer",
				nil,
			))
			return
		}
		limit = parsed
	}

	filters := types.ListFilters{
		UserID: actor.UserID,
		Ticker: types.NormalizeTicker(q.Get("ticker")),
		Limit:  types.ClampListLimit(limit),
		Cursor: q.Get("cursor"),
	}

	result, err := h.store.List(r.Context(), filters)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if result.Data == nil {
		result.Data = []types.Prediction{}
	}

	core.JSON(w, r, http.StatusOK, result)
}

// denialError converts a deny decision into the 429 AppError the API
// contract promises: remaining, limit, and either a reset time or an
// upgrade hint.
func denialError(d quota.Decision) *types.AppError {
	details := map[string]any{
		"remaining": max(d.Remaining, 0),
		"limit":     d.Limit,
	}
	if !d.ResetAt.IsZero() {
		details["reset_time"] = d.ResetAt.UTC().Format(time.RFC3339)
	}

	if d.Reason == types.DenyRateLimited {
		return types.NewAppErrorWithDetails(
			types.ErrCodeRateLimit,
			"too many requests, please slow down",
			nil,
			details,
		)
	}

	if d.UpgradeRequired {
		details["upgrade_required"] = true
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeQuotaExceeded,
		"daily prediction limit reached",
		nil,
		details,
	)
}

// setAllowanceHeaders attaches the quota view and tier flag every
// authenticated response carries.
func setAllowanceHeaders(w http.ResponseWriter, actor types.Actor, limit, remaining int, unlimited bool, resetAt time.Time) {
	core.SetQuotaHeaders(w, limit, remaining, unlimited, resetAt)
	w.Header().Set("X-Is-Pro", strconv.FormatBool(actor.IsPro))
}
