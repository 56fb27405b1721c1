package chats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/internal/middleware"
	chatservice "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/pbx"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
)

type pbxRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func (p *pbxRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.bodies = append(p.bodies, body)
	status := p.status
	p.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (p *pbxRecorder) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.bodies))
	for _, body := range p.bodies {
		payload := body["data"].(map[string]any)["payload"].(map[string]any)
		out = append(out, payload["text"].(string))
	}
	return out
}

type fixture struct {
	router *chi.Mux
	store  *chatservice.Store
	pbx    *pbxRecorder
}

func setupRouter(t *testing.T, callbackBase string) *fixture {
	t.Helper()
	recorder := &pbxRecorder{}
	server := httptest.NewServer(recorder)
	t.Cleanup(server.Close)

	store := chatservice.NewStore()
	svc := relay.NewService(relay.Deps{
		Store: store,
		PBX: pbx.NewClient(pbx.Config{
			APIURL:       server.URL,
			Token:        "pbx-token",
			Queue1Number: "800",
			Queue2Number: "801",
		}, server.Client(), nil),
	})

	r := chi.NewRouter()
	r.Route("/webapi/api/v2/chats", New(svc, callbackBase, nil).RegisterRoutes)
	return &fixture{router: r, store: store, pbx: recorder}
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.1.2.3:4567"
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func (f *fixture) start(t *testing.T, nick string) map[string]any {
	t.Helper()
	resp := f.post(t, "/webapi/api/v2/chats", `{"nickName":"`+nick+`","userData":{"chatbot_service":"Predaj"}}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	return decode(t, resp)
}

func TestStartChat(t *testing.T) {
	f := setupRouter(t, "")

	body := f.start(t, "Bob")

	chatID := body["chatId"].(string)
	userID := body["userId"].(string)
	assert.Len(t, chatID, 16)
	assert.Len(t, userID, 16)
	assert.Len(t, body["secureKey"], 17)
	assert.Equal(t, "/api/v2/chats/"+chatID, body["path"])
	assert.Equal(t, "207", body["alias"])
	assert.Equal(t, "Resources", body["tenantName"])
	assert.Equal(t, float64(0), body["statusCode"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	joined := messages[0].(map[string]any)
	assert.Equal(t, "ParticipantJoined", joined["type"])
	assert.Equal(t, "Bob", joined["from"].(map[string]any)["nickname"])

	session, err := f.store.Get(userID)
	require.NoError(t, err)
	assert.Equal(t, "http://10.1.2.3:4567/webapi/api/v2/chats/"+chatID, session.CallbackAddress)
}

func TestStartChatCallbackOverride(t *testing.T) {
	f := setupRouter(t, "https://engage.example.com/chats/")

	body := f.start(t, "Bob")

	session, err := f.store.Get(body["userId"].(string))
	require.NoError(t, err)
	assert.Equal(t, "https://engage.example.com/chats/"+body["chatId"].(string), session.CallbackAddress)
}

func TestStartChatRejectsInvalidRequests(t *testing.T) {
	f := setupRouter(t, "")

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"not json", `nickName=Bob`, "Unsupported content type."},
		{"missing nickname", `{"userData":{"chatbot_service":"x"}}`, "Missing nickname."},
		{"missing routing key", `{"nickName":"Bob","userData":{"lang":"sk"}}`, "Missing userData[chatbot_service]."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, "/webapi/api/v2/chats", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			body := decode(t, resp)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestOperations(t *testing.T) {
	f := setupRouter(t, "")
	started := f.start(t, "Bob")
	userID := started["userId"].(string)
	path := "/webapi/api/v2/chats/" + started["chatId"].(string)

	resp := f.post(t, path, `{"operationName":"SendMessage","userId":"`+userID+`","text":"hello","alias":"207","tenantName":"Resources"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	assert.Equal(t, []any{}, body["messages"])
	assert.Equal(t, false, body["chatEnded"])
	assert.Equal(t, "207", body["alias"])
	assert.Equal(t, "Resources", body["tenantName"])
	assert.Equal(t, userID, body["userId"])
	assert.Equal(t, started["secureKey"], body["secureKey"])

	resp = f.post(t, path, `{"operationName":"SendUrl","userId":"`+userID+`","pushUrl":"https://example.com/a","alias":"x"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "x", decode(t, resp)["alias"])

	resp = f.post(t, path, `{"operationName":"UpdateUserData","userId":"`+userID+`","userData":{"chatbot_service":"Servis"}}`)
	require.Equal(t, http.StatusOK, resp.Code)
	session, err := f.store.Get(userID)
	require.NoError(t, err)
	assert.Equal(t, "Servis", session.RoutingValue())

	resp = f.post(t, path, `{"operationName":"Complete","userId":"`+userID+`"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"statusCode":0}`, resp.Body.String())

	session, err = f.store.Get(userID)
	require.NoError(t, err)
	assert.True(t, session.Closed)

	assert.Equal(t, []string{"hello", "https://example.com/a", relay.CompleteNotice}, f.pbx.texts())
}

func TestOperationErrors(t *testing.T) {
	f := setupRouter(t, "")
	started := f.start(t, "Bob")
	userID := started["userId"].(string)
	path := "/webapi/api/v2/chats/" + started["chatId"].(string)

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"undecodable", `{`, http.StatusBadRequest, "Unsupported content type."},
		{"missing user", `{"operationName":"SendMessage","text":"x"}`, http.StatusBadRequest, "Missing userId."},
		{"unknown user", `{"operationName":"SendMessage","userId":"NOPE","text":"x"}`, http.StatusNotFound, ""},
		{"unknown operation", `{"operationName":"Dance","userId":"` + userID + `"}`, http.StatusBadRequest, "Unknown operationName."},
		{"missing text", `{"operationName":"SendMessage","userId":"` + userID + `"}`, http.StatusBadRequest, "Missing text."},
		{"missing push url", `{"operationName":"SendUrl","userId":"` + userID + `"}`, http.StatusBadRequest, "Missing pushUrl."},
		{"missing user data", `{"operationName":"UpdateUserData","userId":"` + userID + `"}`, http.StatusBadRequest, "Missing userData[chatbot_service] to update."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, path, tt.body)
			assert.Equal(t, tt.status, resp.Code)
			body := decode(t, resp)
			assert.Equal(t, "error", body["status"])
			if tt.msg != "" {
				assert.Equal(t, tt.msg, body["message"])
			}
		})
	}
	assert.Empty(t, f.pbx.texts())
}

func TestOperationForwardFailure(t *testing.T) {
	f := setupRouter(t, "")
	started := f.start(t, "Bob")
	f.pbx.mu.Lock()
	f.pbx.status = http.StatusBadGateway
	f.pbx.mu.Unlock()

	resp := f.post(t, "/webapi/api/v2/chats/"+started["chatId"].(string),
		`{"operationName":"SendMessage","userId":"`+started["userId"].(string)+`","text":"hello"}`)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "error", decode(t, resp)["status"])
}

func TestCallbackForHonoursForwardedProtoAndQuery(t *testing.T) {
	h := New(nil, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/chats?tenant=a", nil)
	req.RemoteAddr = "192.0.2.7"
	req.Header.Set("X-Forwarded-Proto", "https")

	assert.Equal(t, "https://192.0.2.7/chats?tenant=a", h.callbackFor(req))

	req.RemoteAddr = "[2001:db8::1]:9000"
	req.Header.Del("X-Forwarded-Proto")
	assert.Equal(t, "http://[2001:db8::1]:9000/chats?tenant=a", h.callbackFor(req))
}

func TestCallbackForUsesPeerBehindRealIP(t *testing.T) {
	h := New(nil, "", nil)

	var got string
	r := chi.NewRouter()
	r.Use(middleware.PeerAddr)
	r.Use(chimw.RealIP)
	r.Post("/chats", func(w http.ResponseWriter, r *http.Request) {
		got = h.callbackFor(r)
	})

	req := httptest.NewRequest(http.MethodPost, "/chats", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	req.Header.Set("X-Forwarded-For", "198.51.100.20")
	req.Header.Set("X-Real-IP", "198.51.100.20")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "http://10.1.2.3:4567/chats", got)
}
