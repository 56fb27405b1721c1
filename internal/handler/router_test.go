package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/internal/observability"
	chatservice "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/engagement"
	"github.com/zhouzirui/chat-relay/internal/service/events"
	"github.com/zhouzirui/chat-relay/internal/service/pbx"
	"github.com/zhouzirui/chat-relay/internal/service/reconcile"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
)

type capture struct {
	mu     sync.Mutex
	paths  []string
	auth   []string
	bodies []map[string]any
}

func (c *capture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	c.mu.Lock()
	c.paths = append(c.paths, r.URL.Path)
	c.auth = append(c.auth, r.Header.Get("Authorization"))
	c.bodies = append(c.bodies, body)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *capture) last() (string, string, map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.bodies) - 1
	return c.paths[n], c.auth[n], c.bodies[n]
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

type staticOracle struct {
	mu       sync.Mutex
	finished map[string]bool
}

func (o *staticOracle) IsFinished(_ context.Context, name string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished[name], nil
}

func (o *staticOracle) finish(name string) {
	o.mu.Lock()
	o.finished[name] = true
	o.mu.Unlock()
}

type relayStack struct {
	router     http.Handler
	store      *chatservice.Store
	pbx        *capture
	callbacks  *capture
	reconciler *reconcile.Reconciler
	oracle     *staticOracle
	hub        *events.Hub
}

func newStack(t *testing.T) *relayStack {
	t.Helper()

	pbxCapture := &capture{}
	pbxServer := httptest.NewServer(pbxCapture)
	t.Cleanup(pbxServer.Close)

	callbackCapture := &capture{}
	callbackServer := httptest.NewServer(callbackCapture)
	t.Cleanup(callbackServer.Close)

	store := chatservice.NewStore()
	hub := events.NewHub(nil)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	callbacks := engagement.NewClient("engage-token", callbackServer.Client(), nil)

	svc := relay.NewService(relay.Deps{
		Store: store,
		PBX: pbx.NewClient(pbx.Config{
			APIURL:       pbxServer.URL + "/chat",
			Token:        "pbx-token",
			Queue1Number: "800",
			Queue2Number: "801",
		}, pbxServer.Client(), nil),
		Callbacks: callbacks,
		Events:    hub,
		Metrics:   metrics,
	})

	oracle := &staticOracle{finished: map[string]bool{}}
	reconciler := reconcile.New(reconcile.Config{
		Store:    store,
		Oracle:   oracle,
		Notifier: callbacks,
		Events:   hub,
		Metrics:  metrics,
	})

	router := NewRouter(svc, Options{
		CallbackBase: callbackServer.URL + "/chats",
		Hub:          hub,
		Metrics:      metrics,
	})

	return &relayStack{
		router:     router,
		store:      store,
		pbx:        pbxCapture,
		callbacks:  callbackCapture,
		reconciler: reconciler,
		oracle:     oracle,
		hub:        hub,
	}
}

func (s *relayStack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

func TestEndToEndConversation(t *testing.T) {
	s := newStack(t)

	// Customer opens a chat routed to queue 1.
	resp := s.do(t, http.MethodPost, "/chats", `{"nickName":"Bob","userData":{"chatbot_service":"Predaj"}}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var started struct {
		ChatID    string `json:"chatId"`
		UserID    string `json:"userId"`
		SecureKey string `json:"secureKey"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &started))

	// Customer says hello; the PBX receives it from Bob on queue 1.
	resp = s.do(t, http.MethodPost, "/chats/"+started.ChatID,
		`{"operationName":"SendMessage","userId":"`+started.UserID+`","text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	path, auth, body := s.pbx.last()
	assert.Equal(t, "/chat", path)
	assert.Equal(t, "Bearer pbx-token", auth)
	payload := body["data"].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, "hello", payload["text"])
	assert.Equal(t, "Bob", payload["from"].(map[string]any)["phone_number"])
	assert.Equal(t, "800", payload["to"].([]any)[0].(map[string]any)["phone_number"])

	// Agent replies; the engagement platform receives it on the session's callback.
	resp = s.do(t, http.MethodPost, "/", `{"from":"agent","to":"Bob","text":"hi"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	path, auth, body = s.callbacks.last()
	assert.Equal(t, "/chats/"+started.ChatID, path)
	assert.Equal(t, "Bearer engage-token", auth)
	assert.Equal(t, "hi", body["message"])
	assert.Equal(t, started.SecureKey, body["secureKey"])

	// Customer completes the chat.
	resp = s.do(t, http.MethodPost, "/webapi/api/v2/chats/"+started.ChatID,
		`{"operationName":"Complete","userId":"`+started.UserID+`"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	session, err := s.store.Get(started.UserID)
	require.NoError(t, err)
	assert.True(t, session.Closed)

	// Agent messages after completion are dropped.
	resp = s.do(t, http.MethodPost, "/", `{"from":"agent","to":"Bob","text":"still there?"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Chat is already closed.")
	assert.Equal(t, 1, s.callbacks.count())

	// The PBX marks the conversation finished; reconciliation evicts and notifies.
	s.oracle.finish("Bob")
	assert.Equal(t, 1, s.reconciler.Sweep(context.Background()))

	_, err = s.store.Get(started.UserID)
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
	_, _, body = s.callbacks.last()
	assert.Equal(t, "Your chat has been closed.", body["message"])
	assert.Equal(t, true, body["chatEnded"])

	resp = s.do(t, http.MethodGet, "/healthz", "")
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, resp.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newStack(t)
	s.do(t, http.MethodPost, "/chats", `{"nickName":"Bob","userData":{"chatbot_service":"Servis"}}`)

	resp := s.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "chat_relay_sessions_started_total 1")
	assert.Contains(t, resp.Body.String(), "chat_relay_active_sessions 1")
}

func TestStatsRouteOnlyWhenConfigured(t *testing.T) {
	s := newStack(t)

	resp := s.do(t, http.MethodGet, "/stats/isOnlineValue?id=service", "")

	assert.Equal(t, http.StatusNotFound, resp.Code)
}
