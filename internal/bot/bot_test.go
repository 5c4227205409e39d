package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockcast/internal/external"
	"stockcast/internal/quota"
	"stockcast/internal/types"
)

type mockTelegram struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	updates chan tgbotapi.Update
}

func (m *mockTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, msg.Text)
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, m.sendErr
}

func (m *mockTelegram) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if m.updates == nil {
		m.updates = make(chan tgbotapi.Update)
	}
	return m.updates
}

func (m *mockTelegram) replies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *mockTelegram) lastReply(t *testing.T) string {
	t.Helper()
	got := m.replies()
	if len(got) == 0 {
		t.Fatal("expected at least one reply")
	}
	return got[len(got)-1]
}

type mockResolver struct {
	actor   types.Actor
	err     error
	chatIDs []int64
}

func (m *mockResolver) ResolveChat(_ context.Context, chatID int64) (types.Actor, error) {
	m.chatIDs = append(m.chatIDs, chatID)
	if m.err != nil {
		return types.Actor{}, m.err
	}
	return m.actor, nil
}

type mockDirectory struct {
	registered  *types.User
	registerErr error
	chatIDs     []int64
}

func (m *mockDirectory) RegisterChat(_ context.Context, chatID int64) (*types.User, error) {
	m.chatIDs = append(m.chatIDs, chatID)
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return m.registered, nil
}

type mockBotAdmission struct {
	decision    quota.Decision
	admitErr    error
	snap        types.QuotaSnapshot
	statusErr   error
	admitCalls  []types.ChargePolicy
	settleCalls []string
}

func (m *mockBotAdmission) Admit(_ context.Context, _ types.Actor, charge types.ChargePolicy) (quota.Decision, error) {
	m.admitCalls = append(m.admitCalls, charge)
	return m.decision, m.admitErr
}

func (m *mockBotAdmission) ConfirmSuccess(_ context.Context, userID string) error {
	m.settleCalls = append(m.settleCalls, userID)
	return nil
}

func (m *mockBotAdmission) Status(_ context.Context, _ types.Actor) (types.QuotaSnapshot, error) {
	return m.snap, m.statusErr
}

type mockBotStore struct {
	insertResult   *types.Prediction
	insertErr      error
	listResult     *types.ListResponse[types.Prediction]
	listErr        error
	completedCalls []string
	failedCalls    []string
	lastFilters    types.ListFilters
}

func (m *mockBotStore) Insert(_ context.Context, userID, ticker string, channel types.Channel) (*types.Prediction, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if m.insertResult != nil {
		return m.insertResult, nil
	}
	return &types.Prediction{ID: "task_1", UserID: userID, Ticker: ticker, Status: types.PredictionPending, Channel: channel}, nil
}

func (m *mockBotStore) MarkCompleted(_ context.Context, id string, _ types.JSONB, _ []string) error {
	m.completedCalls = append(m.completedCalls, id)
	return nil
}

func (m *mockBotStore) MarkFailed(_ context.Context, id string) error {
	m.failedCalls = append(m.failedCalls, id)
	return nil
}

func (m *mockBotStore) List(_ context.Context, filters types.ListFilters) (*types.ListResponse[types.Prediction], error) {
	m.lastFilters = filters
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.listResult != nil {
		return m.listResult, nil
	}
	return &types.ListResponse[types.Prediction]{Data: []types.Prediction{}}, nil
}

type mockBotPredictor struct {
	result *external.PredictionResult
	err    error
	calls  []string
}

func (m *mockBotPredictor) Predict(_ context.Context, ticker string) (*external.PredictionResult, error) {
	m.calls = append(m.calls, ticker)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockBotBilling struct {
	checkoutURL string
	err         error
	calls       []string
}

func (m *mockBotBilling) CreateCheckoutSession(_ context.Context, userID string, _ types.RedirectURLs) (string, string, error) {
	m.calls = append(m.calls, userID)
	if m.err != nil {
		return "", "", m.err
	}
	return m.checkoutURL, "cs_test_1", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func freeUser() *types.User {
	return &types.User{ID: "usr_1", Username: "tg_777", Email: "tg_777@telegram-temp.example.com"}
}

func freeActor() types.Actor {
	return types.Actor{UserID: "usr_1", Username: "tg_777", Channel: types.ChannelBot}
}

func proActor() types.Actor {
	a := freeActor()
	a.IsPro = true
	return a
}

func allowedDecision() quota.Decision {
	return quota.Decision{Allowed: true, Remaining: 4, Limit: 5}
}

// commandMessage builds a message whose entities make msg.Command() work
// the way real Telegram updates do.
func commandMessage(chatID int64, text string) *tgbotapi.Message {
	cmd := text
	if i := strings.Index(text, " "); i >= 0 {
		cmd = text[:i]
	}
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{FirstName: "Alice"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

type botFixture struct {
	api       *mockTelegram
	resolver  *mockResolver
	users     *mockDirectory
	admission *mockBotAdmission
	store     *mockBotStore
	predictor *mockBotPredictor
	billing   *mockBotBilling
	bot       *Bot
}

func newBotFixture() *botFixture {
	f := &botFixture{
		api:       &mockTelegram{},
		resolver:  &mockResolver{actor: freeActor()},
		users:     &mockDirectory{registered: freeUser()},
		admission: &mockBotAdmission{decision: allowedDecision()},
		store:     &mockBotStore{},
		predictor: &mockBotPredictor{result: &external.PredictionResult{Metrics: types.JSONB{"next_day_price": 187.11, "rmse": 1.5}}},
		billing:   &mockBotBilling{checkoutURL: "https://checkout.stripe.com/c/pay/cs_test_1"},
	}
	f.bot = New(f.api, f.resolver, f.users, f.admission, f.store, f.predictor, f.billing, "https://stockcast.app", 30, testLogger())
	return f
}

func TestHandleStart_RegistersChatAndWelcomes(t *testing.T) {
	f := newBotFixture()

	f.bot.handleCommand(context.Background(), commandMessage(777, "/start"))

	if len(f.users.chatIDs) != 1 || f.users.chatIDs[0] != 777 {
		t.Errorf("expected chat 777 registered, got %v", f.users.chatIDs)
	}
	reply := f.api.lastReply(t)
	if !strings.Contains(reply, "Hello Alice") {
		t.Errorf("expected greeting with first name, got %q", reply)
	}
}

func TestHandleStart_RegistrationFailure(t *testing.T) {
	f := newBotFixture()
	f.users.registerErr = errors.New("db down")

	f.bot.handleCommand(context.Background(), commandMessage(777, "/start"))

	if !strings.Contains(f.api.lastReply(t), "try again") {
		t.Errorf("expected failure reply, got %q", f.api.lastReply(t))
	}
}

func TestHandlePredict_ChargesOnSuccess(t *testing.T) {
	f := newBotFixture()

	f.bot.handleCommand(context.Background(), commandMessage(777, "/predict aapl"))

	if got := f.admission.admitCalls; len(got) != 1 || got[0] != types.ChargeOnSuccess {
		t.Errorf("expected one on_success admit, got %v", got)
	}
	if got := f.predictor.calls; len(got) != 1 || got[0] != "AAPL" {
		t.Errorf("expected normalized ticker AAPL, got %v", got)
	}
	if got := f.store.completedCalls; len(got) != 1 || got[0] != "task_1" {
		t.Errorf("expected prediction completed, got %v", got)
	}
	if got := f.admission.settleCalls; len(got) != 1 || got[0] != "usr_1" {
		t.Errorf("expected consumption settled for usr_1, got %v", got)
	}
	reply := f.api.lastReply(t)
	if !strings.Contains(reply, "AAPL") || !strings.Contains(reply, "$187.11") {
		t.Errorf("expected formatted result, got %q", reply)
	}
}

func TestHandlePredict_UnlinkedChatGetsOnboardingHint(t *testing.T) {
	f := newBotFixture()
	f.resolver.err = types.NewAppError(types.ErrCodeNotFoundProfile, "no account linked to this chat", nil)

	f.bot.handleCommand(context.Background(), commandMessage(777, "/predict AAPL"))

	if !strings.Contains(f.api.lastReply(t), "/start") {
		t.Errorf("expected /start hint, got %q", f.api.lastReply(t))
	}
	if len(f.predictor.calls) != 0 {
		t.Errorf("unlinked chat must not reach the model, got %v", f.predictor.calls)
	}
}

func TestHandlePredict_MissingTickerShowsUsage(t *testing.T) {
	f := newBotFixture()

	f.bot.handleCommand(context.Background(), commandMessage(777, "/predict"))

	if !strings.Contains(f.api.lastReply(t), "Usage:") {
		t.Errorf("expected usage hint, got %q", f.api.lastReply(t))
	}
	if len(f.admission.admitCalls) != 0 {
		t.Error("invalid ticker must not hit admission")
	}
}

func TestHandlePredict_RateLimitedDenial(t *testing.T) {
	f := newBotFixture()
	f.admission.decision = quota.Decision{
		Reason:  types.DenyRateLimited,
		ResetAt: time.Now().Add(30 * time.Second),
	}

	f.bot.handleCommand(context.Background(), commandMessage(777, "/predict AAPL"))

	if !strings.Contains(f.api.lastReply(t), "Too many requests") {
		t.Errorf("expected throttle reply, got %q", f.api.lastReply(t))
	}
	if len(f.predictor.calls) != 0 {
		t.Error("denied request must not reach the model")
	}
}

func TestHandlePredict_QuotaDenialPromptsUpgrade(t *testing.T) {
	f := newBotFixture()
	f.admission.decision = quota.Decision{
		Reason:          types.DenyQuotaExceeded,
		Limit:           5,
		UpgradeRequired: true,
	}

	f.bot.handleCommand(context.Background(), commandMessage(777, "/predict AAPL"))

	reply := f.api.lastReply(t)
	if !strings.Contains(reply, "limit reached (5/5)") || !strings.Contains(reply, "/subscribe") {
		t.Errorf("expected quota denial with upsell, got %q", reply)
	}
}

func TestHandlePredict_ModelFailureIsFree(t *testing.T) {
	f := newBotFixture()
	f.predictor.err = types.NewAppError(types.ErrCodeUpstreamPredictor, "model timed out", nil)

	f.bot.handleCommand(context.Background(), commandMessage(777, "/predict AAPL"))

	if got := f.store.failedCalls; len(got) != 1 || got[0] != "task_1" {
		t.Errorf("expected prediction marked failed, got %v", got)
	}
	if len(f.admission.settleCalls) != 0 {
		t.Errorf("failed run must not settle quota, got %v", f.admission.settleCalls)
	}
	if !strings.Contains(f.api.lastReply(t), "not charged") {
		t.Errorf("expected not-charged reply, got %q", f.api.lastReply(t))
	}
}

func TestHandleLatest_EmptyHistory(t *testing.T) {
	f := newBotFixture()

	f.bot.handleCommand(context.Background(), commandMessage(777, "/latest"))

	if !strings.Contains(f.api.lastReply(t), "No predictions yet") {
		t.Errorf("expected empty-history reply, got %q", f.api.lastReply(t))
	}
	if f.store.lastFilters.UserID != "usr_1" || f.store.lastFilters.Limit != latestListLimit {
		t.Errorf("unexpected list filters %+v", f.store.lastFilters)
	}
}

func TestHandleLatest_ListsRecentPredictions(t *testing.T) {
	f := newBotFixture()
	f.store.listResult = &types.ListResponse[types.Prediction]{Data: []types.Prediction{
		{Ticker: "AAPL", Status: types.PredictionCompleted, CreatedAt: time.Now()},
		{Ticker: "TSLA", Status: types.PredictionFailed, CreatedAt: time.Now()},
	}}

	f.bot.handleCommand(context.Background(), commandMessage(777, "/latest"))

	reply := f.api.lastReply(t)
	if !strings.Contains(reply, "AAPL") || !strings.Contains(reply, "TSLA") {
		t.Errorf("expected both tickers listed, got %q", reply)
	}
	if !strings.Contains(reply, "AAPL - completed") {
		t.Errorf("expected 'TICKER - status' lines, got %q", reply)
	}
}

func TestHandleSubscribe_SendsCheckoutLink(t *testing.T) {
	f := newBotFixture()

	f.bot.handleCommand(context.Background(), commandMessage(777, "/subscribe"))

	if got := f.billing.calls; len(got) != 1 || got[0] != "usr_1" {
		t.Errorf("expected checkout for usr_1, got %v", got)
	}
	if !strings.Contains(f.api.lastReply(t), f.billing.checkoutURL) {
		t.Errorf("expected checkout URL in reply, got %q", f.api.lastReply(t))
	}
}

func TestHandleSubscribe_AlreadyPro(t *testing.T) {
	f := newBotFixture()
	f.resolver.actor = proActor()

	f.bot.handleCommand(context.Background(), commandMessage(777, "/subscribe"))

	if len(f.billing.calls) != 0 {
		t.Errorf("PRO user must not get a checkout session, got %v", f.billing.calls)
	}
	if !strings.Contains(f.api.lastReply(t), "already") {
		t.Errorf("expected already-PRO reply, got %q", f.api.lastReply(t))
	}
}

func TestHandleStats_FreeUserGetsUpgradePrompt(t *testing.T) {
	f := newBotFixture()

	f.bot.handleCommand(context.Background(), commandMessage(777, "/stats"))

	if !strings.Contains(f.api.lastReply(t), "/subscribe") {
		t.Errorf("expected upgrade prompt, got %q", f.api.lastReply(t))
	}
}

func TestHandleStats_ProUserSeesUsage(t *testing.T) {
	f := newBotFixture()
	f.resolver.actor = proActor()
	f.admission.snap = types.QuotaSnapshot{Used: 12, Unlimited: true}

	f.bot.handleCommand(context.Background(), commandMessage(777, "/stats"))

	reply := f.api.lastReply(t)
	if !strings.Contains(reply, "12") || !strings.Contains(reply, "PRO") {
		t.Errorf("expected usage stats, got %q", reply)
	}
}

func TestHandleCommand_UnknownCommand(t *testing.T) {
	f := newBotFixture()

	f.bot.handleCommand(context.Background(), commandMessage(777, "/frobnicate"))

	if !strings.Contains(f.api.lastReply(t), "/help") {
		t.Errorf("expected help hint, got %q", f.api.lastReply(t))
	}
}

func TestFormatResult_SkipsMissingMetrics(t *testing.T) {
	text := FormatResult("MSFT", &external.PredictionResult{
		Metrics:  types.JSONB{"rmse": 2.5},
		PlotURLs: []string{"https://plots/msft.png"},
	})

	if !strings.Contains(text, "MSFT") || !strings.Contains(text, "RMSE: 2.5000") {
		t.Errorf("unexpected result text %q", text)
	}
	if strings.Contains(text, "Next-day price") {
		t.Errorf("absent metric must be omitted, got %q", text)
	}
	if !strings.Contains(text, "https://plots/msft.png") {
		t.Errorf("expected plot URL, got %q", text)
	}
}

func TestNotifier_SuccessAndFailureReplies(t *testing.T) {
	api := &mockTelegram{}
	n := NewNotifier(api)

	if err := n.NotifySuccess(context.Background(), 777, "AAPL", &external.PredictionResult{}); err != nil {
		t.Fatalf("notify success: %v", err)
	}
	if err := n.NotifyFailure(context.Background(), 777, "AAPL"); err != nil {
		t.Fatalf("notify failure: %v", err)
	}

	if len(api.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(api.sent))
	}
	if !strings.Contains(api.sent[0], "AAPL") {
		t.Errorf("expected result message, got %q", api.sent[0])
	}
	if !strings.Contains(api.sent[1], "not charged") {
		t.Errorf("expected failure message, got %q", api.sent[1])
	}
}

func TestRun_DispatchesCommandsUntilCancel(t *testing.T) {
	f := newBotFixture()
	f.api.updates = make(chan tgbotapi.Update, 1)
	f.api.updates <- tgbotapi.Update{Message: commandMessage(777, "/help")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(f.api.replies()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for help reply")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop after cancel")
	}
}
