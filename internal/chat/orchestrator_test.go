package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/ai"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/safety"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const notifyQueue = "notifications"

// memorySessions mimics the guarded updates of SessionStore.
type memorySessions struct {
	mu        sync.Mutex
	sessions  map[string]*domain.ChatSession
	messages  map[string][]domain.ChatMessage
	appendErr error
}

func newMemorySessions() *memorySessions {
	return &memorySessions{
		sessions: make(map[string]*domain.ChatSession),
		messages: make(map[string][]domain.ChatMessage),
	}
}

func (m *memorySessions) EnsureSession(_ context.Context, sessionID, userID string, at time.Time) (*domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &domain.ChatSession{ID: sessionID, UserID: userID, Status: domain.StatusActive, CreatedAt: at, UpdatedAt: at}
		m.sessions[sessionID] = s
	}
	if s.UserID != userID {
		return nil, ErrSessionOwnership
	}
	cp := *s
	return &cp, nil
}

func (m *memorySessions) AppendMessage(_ context.Context, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, existing := range m.messages[msg.SessionID] {
		if existing.ID == msg.ID {
			return nil
		}
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *memorySessions) Escalate(_ context.Context, sessionID string, e Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.Transition(domain.StatusNeedsReview, e.Reason); err != nil {
		return err
	}
	s.AIConfidence = domain.Float64(e.Confidence)
	quality := e.Quality
	s.HealthDataQuality = &quality
	return nil
}

func (m *memorySessions) GetSession(_ context.Context, sessionID string) (*domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memorySessions) session(id string) domain.ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[id]
}

func (m *memorySessions) transcript(id string) []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatMessage(nil), m.messages[id]...)
}

type staticContext struct {
	snapshot *domain.HealthSnapshot
}

func (s staticContext) Fetch(context.Context, string) *domain.HealthSnapshot {
	return s.snapshot
}

type fakeProvider struct {
	calls   int32
	resp    ai.Response
	err     error
	block   bool
	entered chan struct{}
	gate    chan struct{}
}

func (p *fakeProvider) Generate(ctx context.Context, _ string, _ *domain.HealthSnapshot) (ai.Response, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.gate != nil {
		p.entered <- struct{}{}
		<-p.gate
	}
	if p.block {
		<-ctx.Done()
		return ai.Response{}, ctx.Err()
	}
	return p.resp, p.err
}

type harness struct {
	orch     *Orchestrator
	sessions *memorySessions
	ledger   *MemoryTurnLedger
	provider *fakeProvider
	broker   *transport.MemoryBroker
	cache    *cache.Store
}

func newHarness(t *testing.T, provider *fakeProvider, snapshot *domain.HealthSnapshot) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		sessions: newMemorySessions(),
		ledger:   NewMemoryTurnLedger(),
		provider: provider,
		broker:   transport.NewMemoryBroker(32),
		cache:    cache.NewStore(client, nil),
	}
	logger := logging.New("error")
	h.orch = NewOrchestrator(OrchestratorConfig{
		Sessions:          h.sessions,
		Ledger:            h.ledger,
		Context:           staticContext{snapshot: snapshot},
		Provider:          provider,
		Cache:             h.cache,
		Publisher:         transport.NewPublisher(h.broker, logger),
		NotificationQueue: notifyQueue,
		AITimeout:         50 * time.Millisecond,
		Logger:            logger,
	})
	return h
}

func (h *harness) notifications(t *testing.T) []events.NotificationRequestedV1 {
	t.Helper()
	h.orch.Wait()
	var out []events.NotificationRequestedV1
	for h.broker.Len(notifyQueue) > 0 {
		msgs, err := h.broker.Receive(context.Background(), notifyQueue, 10, 0)
		require.NoError(t, err)
		for _, m := range msgs {
			env, err := events.ParseEnvelope([]byte(m.Body))
			require.NoError(t, err)
			n, err := events.Decode[events.NotificationRequestedV1](env)
			require.NoError(t, err)
			out = append(out, n)
			require.NoError(t, h.broker.Ack(context.Background(), notifyQueue, m))
		}
	}
	return out
}

func weekOfSteadyLogs() *domain.HealthSnapshot {
	snap := &domain.HealthSnapshot{UserID: "u1"}
	for i := 0; i < 7; i++ {
		snap.DailyLogs = append(snap.DailyLogs, domain.DailyLog{HeartRate: domain.Float64(70 + float64(i%2))})
	}
	return snap
}

func request(text string) ChatRequest {
	return ChatRequest{
		SessionID: "s1",
		UserID:    "u1",
		Message:   text,
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestHandleTurnAnswersConfidentResponse(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "Rest and drink water.", Confidence: 0.85, Source: ai.SourceLLM}}
	h := newHarness(t, provider, weekOfSteadyLogs())

	require.NoError(t, h.orch.HandleTurn(context.Background(), request("I have a headache")))

	session := h.sessions.session("s1")
	assert.Equal(t, domain.StatusActive, session.Status)
	assert.False(t, session.NeedsDoctorReview)

	transcript := h.sessions.transcript("s1")
	require.Len(t, transcript, 2)
	assert.Equal(t, domain.AuthorUser, transcript[0].Author)
	reply := transcript[1]
	assert.Equal(t, "Rest and drink water.", reply.Text)
	assert.Equal(t, 0.85, *reply.Metadata.Confidence)
	assert.Equal(t, 0.45, *reply.Metadata.Clarity)
	assert.Equal(t, ai.SourceLLM, reply.Metadata.Source)

	var cached TurnResult
	hit, err := h.cache.Get(context.Background(), cache.ChatSessionKey("s1"), &cached)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "completed", cached.Status)
	assert.Equal(t, reply.ID, cached.MessageID)

	notes := h.notifications(t)
	require.Len(t, notes, 1)
	assert.Equal(t, NotifyChatResponse, notes[0].Type)
	assert.Equal(t, "u1", notes[0].UserID)
	assert.Equal(t, "false", notes[0].Data["needsDoctorReview"])
}

func TestHandleTurnAsksForClarificationWithoutCallingProvider(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "unused", Confidence: 0.9}}
	h := newHarness(t, provider, nil)

	require.NoError(t, h.orch.HandleTurn(context.Background(), request("feeling weird")))

	assert.Zero(t, atomic.LoadInt32(&provider.calls))
	session := h.sessions.session("s1")
	assert.Equal(t, domain.StatusActive, session.Status)

	reply := h.sessions.transcript("s1")[1]
	assert.True(t, reply.Metadata.NeedsClarification)
	assert.False(t, reply.Metadata.NeedsDoctorReview)
	assert.Equal(t, safety.ClarificationConfidence, *reply.Metadata.Confidence)
	assert.Equal(t, 0.2, *reply.Metadata.Clarity)
	assert.Equal(t, safety.ClarificationPrompt("feeling weird"), reply.Text)
}

func TestHandleTurnEscalatesHealthQuestionWithSparseData(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "Your trend looks fine.", Confidence: 0.85, Source: ai.SourceLLM}}
	sparse := &domain.HealthSnapshot{UserID: "u1", DailyLogs: []domain.DailyLog{{HeartRate: domain.Float64(72)}}}
	h := newHarness(t, provider, sparse)

	require.NoError(t, h.orch.HandleTurn(context.Background(), request("show my trend")))

	session := h.sessions.session("s1")
	assert.Equal(t, domain.StatusNeedsReview, session.Status)
	assert.Equal(t, safety.ReasonInsufficientData, session.ReviewReason)
	require.NotNil(t, session.HealthDataQuality)
	assert.Equal(t, 0.14, session.HealthDataQuality.Completeness)

	reply := h.sessions.transcript("s1")[1]
	assert.True(t, reply.Metadata.NeedsDoctorReview)
	assert.Contains(t, reply.Text, safety.ReviewPendingNotice)
	assert.NotContains(t, reply.Text, "Your trend looks fine.")
}

func TestHandleTurnFallsBackWhenProviderFails(t *testing.T) {
	cases := map[string]*fakeProvider{
		"error":   {err: errors.New("bedrock throttled")},
		"timeout": {block: true},
	}
	for name, provider := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, provider, weekOfSteadyLogs())

			require.NoError(t, h.orch.HandleTurn(context.Background(), request("I have a headache")))

			session := h.sessions.session("s1")
			assert.Equal(t, domain.StatusNeedsReview, session.Status)
			assert.Equal(t, ReasonAIUnavailable, session.ReviewReason)
			assert.Equal(t, 0.5, *session.AIConfidence)

			reply := h.sessions.transcript("s1")[1]
			assert.Equal(t, SourceFallback, reply.Metadata.Source)
			assert.Contains(t, reply.Text, safety.ReviewPendingNotice)
		})
	}
}

func TestHandleTurnSkipsDuplicateDelivery(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "Rest.", Confidence: 0.85, Source: ai.SourceLLM}}
	h := newHarness(t, provider, weekOfSteadyLogs())
	req := request("I have a headache")

	require.NoError(t, h.orch.HandleTurn(context.Background(), req))
	require.NoError(t, h.orch.HandleTurn(context.Background(), req))

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.calls))
	assert.Len(t, h.sessions.transcript("s1"), 2)
	status, _ := h.ledger.Status(TurnKey(req.SessionID, req.Timestamp, req.Message))
	assert.Equal(t, TurnCompleted, status)
}

func TestHandleTurnPersistenceFailureIsRetried(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "Rest.", Confidence: 0.85}}
	h := newHarness(t, provider, nil)
	h.sessions.appendErr = errors.New("connection reset")
	req := request("I have a headache")

	err := h.orch.HandleTurn(context.Background(), req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, events.ErrMalformedPayload)

	_, claimed := h.ledger.Status(TurnKey(req.SessionID, req.Timestamp, req.Message))
	assert.False(t, claimed, "a failed attempt releases its claim")

	h.sessions.appendErr = nil
	require.NoError(t, h.orch.HandleTurn(context.Background(), req))
	assert.Len(t, h.sessions.transcript("s1"), 2)
}

func TestHandleTurnNotifiesAssignedReviewer(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "Rest.", Confidence: 0.85}}
	h := newHarness(t, provider, weekOfSteadyLogs())
	h.sessions.sessions["s1"] = &domain.ChatSession{
		ID: "s1", UserID: "u1", Status: domain.StatusAssigned,
		AssignedReviewerID: "doc-7", ReviewReason: "Low AI confidence", NeedsDoctorReview: true,
	}

	require.NoError(t, h.orch.HandleTurn(context.Background(), request("I have a headache")))

	types := map[string]string{}
	for _, n := range h.notifications(t) {
		types[n.Type] = n.UserID
	}
	assert.Equal(t, "doc-7", types[NotifyNewMessage])
	assert.Equal(t, "u1", types[NotifyChatResponse])
}

func TestHandleTurnDefersConcurrentRedelivery(t *testing.T) {
	provider := &fakeProvider{
		resp:    ai.Response{Text: "Rest.", Confidence: 0.85, Source: ai.SourceLLM},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	h := newHarness(t, provider, weekOfSteadyLogs())
	h.orch.timeout = time.Second
	req := request("I have a headache")

	first := make(chan error, 1)
	go func() { first <- h.orch.HandleTurn(context.Background(), req) }()
	<-provider.entered

	err := h.orch.HandleTurn(context.Background(), req)
	var retry *transport.RetryError
	require.ErrorAs(t, err, &retry)
	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.Equal(t, turnRetryDelay, retry.Delay)

	close(provider.gate)
	require.NoError(t, <-first)
	require.NoError(t, h.orch.HandleTurn(context.Background(), req))

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.calls))
	assert.Len(t, h.sessions.transcript("s1"), 2)
	responses := 0
	for _, n := range h.notifications(t) {
		if n.Type == NotifyChatResponse {
			responses++
		}
	}
	assert.Equal(t, 1, responses)
}

func TestHandleTurnOnClosedSessionDoesNotPromiseReview(t *testing.T) {
	for _, status := range []domain.SessionStatus{domain.StatusCompleted, domain.StatusArchived} {
		t.Run(string(status), func(t *testing.T) {
			provider := &fakeProvider{resp: ai.Response{Text: "Maybe a migraine.", Confidence: 0.4, Source: ai.SourceLLM}}
			h := newHarness(t, provider, weekOfSteadyLogs())
			h.sessions.sessions["s1"] = &domain.ChatSession{ID: "s1", UserID: "u1", Status: status}

			require.NoError(t, h.orch.HandleTurn(context.Background(), request("I have a headache")))

			assert.Equal(t, status, h.sessions.session("s1").Status)
			reply := h.sessions.transcript("s1")[1]
			assert.False(t, reply.Metadata.NeedsDoctorReview)
			assert.Empty(t, reply.Metadata.ReviewReason)
			assert.NotContains(t, reply.Text, safety.ReviewPendingNotice)
			assert.Contains(t, reply.Text, safety.ClosedSessionNotice)

			notes := h.notifications(t)
			require.Len(t, notes, 1)
			assert.Equal(t, "false", notes[0].Data["needsDoctorReview"])
		})
	}
}

func TestHandleTurnKeepsNoticeWhileReviewerAssigned(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "Maybe a migraine.", Confidence: 0.4}}
	h := newHarness(t, provider, weekOfSteadyLogs())
	h.sessions.sessions["s1"] = &domain.ChatSession{
		ID: "s1", UserID: "u1", Status: domain.StatusAssigned,
		AssignedReviewerID: "doc-7", ReviewReason: "Low AI confidence", NeedsDoctorReview: true,
	}

	require.NoError(t, h.orch.HandleTurn(context.Background(), request("I have a headache")))

	reply := h.sessions.transcript("s1")[1]
	assert.True(t, reply.Metadata.NeedsDoctorReview)
	assert.Contains(t, reply.Text, safety.ReviewPendingNotice)
}

func TestHandleTurnScrubsReviewerPreview(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "Rest.", Confidence: 0.85}}
	h := newHarness(t, provider, weekOfSteadyLogs())
	h.sessions.sessions["s1"] = &domain.ChatSession{
		ID: "s1", UserID: "u1", Status: domain.StatusAssigned,
		AssignedReviewerID: "doc-7", ReviewReason: "Low AI confidence", NeedsDoctorReview: true,
	}

	require.NoError(t, h.orch.HandleTurn(context.Background(), request("I have a headache, email me at jane@example.com")))

	for _, n := range h.notifications(t) {
		if n.Type == NotifyNewMessage {
			assert.Equal(t, "I have a headache, email me at [EMAIL]", n.Data["preview"])
			return
		}
	}
	t.Fatal("reviewer was not notified")
}

func TestHandleTurnRejectsMalformedRequest(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, nil)

	err := h.orch.HandleTurn(context.Background(), ChatRequest{SessionID: "s1", UserID: "u1", Message: "  "})
	assert.ErrorIs(t, err, events.ErrMalformedPayload)

	h.sessions.sessions["s1"] = &domain.ChatSession{ID: "s1", UserID: "other", Status: domain.StatusActive}
	err = h.orch.HandleTurn(context.Background(), request("I have a headache"))
	assert.ErrorIs(t, err, events.ErrMalformedPayload)
}

func TestWorkerProcessesQueuedRequests(t *testing.T) {
	provider := &fakeProvider{resp: ai.Response{Text: "Rest.", Confidence: 0.85}}
	h := newHarness(t, provider, weekOfSteadyLogs())
	logger := logging.New("error")

	pub := transport.NewPublisher(h.broker, logger)
	_, err := pub.Publish(context.Background(), "chat_requests", "session:s1", events.ChatRequestedV1{
		SessionID: "s1", UserID: "u1", Message: "I have a headache", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(h.broker, "chat_requests", h.orch, logger, transport.WithReceiveWait(10*time.Millisecond))
	worker.Start(ctx)

	require.Eventually(t, func() bool {
		return len(h.sessions.transcript("s1")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	worker.Wait()
	h.orch.Wait()
}

func TestContextListenerOverwritesCachedSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := cache.NewStore(client, nil)
	broker := transport.NewMemoryBroker(8)
	logger := logging.New("error")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, cache.UserContextKey("u1"), domain.HealthSnapshot{UserID: "u1"}, time.Minute))

	fresh := &domain.HealthSnapshot{UserID: "u1", Current: domain.Vitals{HeartRate: domain.Float64(88)}}
	_, err := transport.NewPublisher(broker, logger).Publish(ctx, "health_context_events", "user:u1",
		events.ContextChangedV1{UserID: "u1", Type: "health_data_updated", Data: fresh, Timestamp: time.Now()})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	listener := NewContextListener(broker, "health_context_events", store, logger, transport.WithReceiveWait(10*time.Millisecond))
	listener.Start(runCtx)

	require.Eventually(t, func() bool {
		var got domain.HealthSnapshot
		hit, _ := store.Get(ctx, cache.UserContextKey("u1"), &got)
		return hit && got.Current.HeartRate != nil && *got.Current.HeartRate == 88
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, cache.UserContextTTL, mr.TTL("user_context:u1"))
	cancel()
	listener.Wait()
}
