package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/chat"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/http/middleware"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

type fakeSessions struct {
	sessions   map[string]domain.ChatSession
	err        error
	bookmarked map[string]bool
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*domain.ChatSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, chat.ErrSessionNotFound
	}
	return &s, nil
}

func (f *fakeSessions) SetBookmark(_ context.Context, id, user string, flag bool) error {
	s, ok := f.sessions[id]
	if !ok || s.UserID != user {
		return chat.ErrSessionNotFound
	}
	if f.bookmarked == nil {
		f.bookmarked = map[string]bool{}
	}
	f.bookmarked[id] = flag
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, string, events.CanonicalEvent, ...transport.PublishOption) (events.Envelope, error) {
	return events.Envelope{}, errors.New("broker down")
}

type chatFixture struct {
	handler  *ChatHandler
	sessions *fakeSessions
	broker   *transport.MemoryBroker
	cache    *cache.Store
	router   chi.Router
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logging.New("error")
	f := &chatFixture{
		sessions: &fakeSessions{sessions: map[string]domain.ChatSession{
			"s-owned": {ID: "s-owned", UserID: "u1", Status: domain.StatusActive},
			"s-other": {ID: "s-other", UserID: "u2", Status: domain.StatusActive},
		}},
		broker: transport.NewMemoryBroker(16),
		cache:  cache.NewStore(client, nil),
	}
	f.handler = NewChatHandler(f.sessions, f.cache, transport.NewPublisher(f.broker, logger), "chat_requests", logger)

	r := chi.NewRouter()
	r.Post("/chat/send", f.handler.Send)
	r.Get("/chat/session/{id}", f.handler.Session)
	r.Post("/bookmark/{sessionId}", f.handler.Bookmark)
	f.router = r
	return f
}

func (f *chatFixture) do(method, path, body, userID string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{ID: userID, Role: middleware.RolePatient}))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSendEnqueuesTurnAndMarksProcessing(t *testing.T) {
	f := newChatFixture(t)

	rec := f.do(http.MethodPost, "/chat/send", `{"message":"  I have a headache  "}`, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp sendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "processing", resp.Status)

	msgs, err := f.broker.Receive(context.Background(), "chat_requests", 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	env, err := events.ParseEnvelope([]byte(msgs[0].Body))
	require.NoError(t, err)
	evt, err := events.Decode[events.ChatRequestedV1](env)
	require.NoError(t, err)
	assert.Equal(t, "I have a headache", evt.Message)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, resp.SessionID, evt.SessionID)

	var pending chat.TurnResult
	hit, err := f.cache.Get(context.Background(), cache.ChatSessionKey(resp.SessionID), &pending)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "processing", pending.Status)
}

func TestSendValidation(t *testing.T) {
	f := newChatFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/chat/send", `{"message":"   "}`, "u1").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/chat/send", `{"message":`, "u1").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/chat/send", `{"message":"hi","extra":1}`, "u1").Code)
	long := `{"message":"` + strings.Repeat("a", maxMessageRunes+1) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(http.MethodPost, "/chat/send", long, "u1").Code)
}

func TestSendRejectsForeignSession(t *testing.T) {
	f := newChatFixture(t)

	rec := f.do(http.MethodPost, "/chat/send", `{"message":"hi","sessionId":"s-other"}`, "u1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, f.broker.Len("chat_requests"))

	rec = f.do(http.MethodPost, "/chat/send", `{"message":"hi","sessionId":"s-owned"}`, "u1")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSendReportsUnavailableBroker(t *testing.T) {
	f := newChatFixture(t)
	f.handler.publisher = failingPublisher{}

	rec := f.do(http.MethodPost, "/chat/send", `{"message":"hi"}`, "u1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "broker down")
}

func TestSessionReturnsCachedResult(t *testing.T) {
	f := newChatFixture(t)
	result := chat.TurnResult{Status: "completed", MessageID: "m1", Response: "Rest and hydrate."}
	require.NoError(t, f.cache.Set(context.Background(), cache.ChatSessionKey("s-owned"), result, cache.ChatSessionTTL))

	rec := f.do(http.MethodGet, "/chat/session/s-owned", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got chat.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Rest and hydrate.", got.Response)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/chat/session/s-owned", "", "u2").Code)
}

func TestSessionWithoutResultIsProcessing(t *testing.T) {
	f := newChatFixture(t)
	rec := f.do(http.MethodGet, "/chat/session/s-new", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"processing"`)
}

func TestSessionLookupFailureIsInternal(t *testing.T) {
	f := newChatFixture(t)
	f.sessions.err = errors.New("db down")
	rec := f.do(http.MethodGet, "/chat/session/s-owned", "", "u1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestBookmark(t *testing.T) {
	f := newChatFixture(t)

	rec := f.do(http.MethodPost, "/bookmark/s-owned", `{"isBookmarked":true}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.sessions.bookmarked["s-owned"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/bookmark/s-other", `{"isBookmarked":true}`, "u1").Code)
}
