package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"stockcast/internal/external"
	"stockcast/internal/quota"
	"stockcast/internal/types"
)

// --- Mocks ---

type mockAdmission struct {
	decision    quota.Decision
	admitErr    error
	snap        types.QuotaSnapshot
	statusErr   error
	admitCalls  []types.ChargePolicy
	statusCalls int
}

func (m *mockAdmission) Admit(_ context.Context, _ types.Actor, charge types.ChargePolicy) (quota.Decision, error) {
	m.admitCalls = append(m.admitCalls, charge)
	return m.decision, m.admitErr
}

func (m *mockAdmission) Status(_ context.Context, _ types.Actor) (types.QuotaSnapshot, error) {
	m.statusCalls++
	return m.snap, m.statusErr
}

type mockPredictionStore struct {
	insertResult   *types.Prediction
	insertErr      error
	completedErr   error
	failedErr      error
	listResult     *types.ListResponse[types.Prediction]
	listErr        error
	completedCalls []string
	failedCalls    []string
	lastFilters    types.ListFilters
}

func (m *mockPredictionStore) Insert(_ context.Context, userID, ticker string, channel types.Channel) (*types.Prediction, error) {
	return m.insertResult, m.insertErr
}

func (m *mockPredictionStore) MarkCompleted(_ context.Context, id string, _ types.JSONB, _ []string) error {
	m.completedCalls = append(m.completedCalls, id)
	return m.completedErr
}

func (m *mockPredictionStore) MarkFailed(_ context.Context, id string) error {
	m.failedCalls = append(m.failedCalls, id)
	return m.failedErr
}

func (m *mockPredictionStore) List(_ context.Context, filters types.ListFilters) (*types.ListResponse[types.Prediction], error) {
	m.lastFilters = filters
	return m.listResult, m.listErr
}

type enqueueCall struct {
	TaskID string
	Actor  types.Actor
	Ticker string
	Charge types.ChargePolicy
	ChatID int64
}

type mockEnqueuer struct {
	err   error
	calls []enqueueCall
}

func (m *mockEnqueuer) EnqueuePrediction(_ context.Context, taskID string, actor types.Actor, ticker string, charge types.ChargePolicy, chatID int64) error {
	m.calls = append(m.calls, enqueueCall{taskID, actor, ticker, charge, chatID})
	return m.err
}

type mockPredictor struct {
	result *external.PredictionResult
	err    error
	calls  []string
}

func (m *mockPredictor) Predict(_ context.Context, ticker string) (*external.PredictionResult, error) {
	m.calls = append(m.calls, ticker)
	return m.result, m.err
}

type mockUserDirectory struct {
	user *types.User
	err  error
}

func (m *mockUserDirectory) GetByID(_ context.Context, _ string) (*types.User, error) {
	return m.user, m.err
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testActor() types.Actor {
	return types.Actor{
		UserID:   "usr_1",
		Username: "alice",
		Channel:  types.ChannelAPI,
	}
}

// authedRequest builds a request carrying the actor, as the auth middleware
// would leave it.
func authedRequest(method, target string, body io.Reader, actor types.Actor) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(types.WithActor(req.Context(), actor))
}
