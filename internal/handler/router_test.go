package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/xiaohao/backend/internal/handler"
	"github.com/zhouzirui/xiaohao/backend/internal/middleware"
	chatmodel "github.com/zhouzirui/xiaohao/backend/internal/model/chat"
	"github.com/zhouzirui/xiaohao/backend/internal/service/ai"
	"github.com/zhouzirui/xiaohao/backend/internal/service/assistant"
	"github.com/zhouzirui/xiaohao/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/xiaohao/backend/internal/service/chat"
	personaservice "github.com/zhouzirui/xiaohao/backend/internal/service/persona"
	"github.com/zhouzirui/xiaohao/backend/internal/storage"
	"github.com/zhouzirui/xiaohao/backend/pkg/token"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
}

func newTestAPI(t *testing.T, tweaks ...func(*handler.Deps)) *testAPI {
	t.Helper()
	store, err := storage.New(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)

	personas := personaservice.NewService(store)
	personas.EnsureDefaults(context.Background())
	chats := chatservice.NewService(store)

	backend := ai.BackendFunc(func(_ context.Context, messages []chatmodel.Message, _ ai.Options) (*ai.Response, error) {
		last := messages[len(messages)-1].Content
		msg := chatmodel.AssistantMessage("<think>想一想</think>回声：" + last)
		return &ai.Response{Message: &msg}, nil
	})
	responder := ai.NewMessageHandler(backend, ai.DefaultProfiles())

	deps := handler.Deps{
		Users:       auth.NewService(store),
		Tokens:      token.NewManager("test-secret", time.Hour),
		Personas:    personas,
		Chats:       chats,
		Assistant:   assistant.NewService(chats, personas, responder),
		AuthLimiter: middleware.NewRateLimiter(100, 100, nil),
	}
	for _, tweak := range tweaks {
		tweak(&deps)
	}
	return &testAPI{t: t, handler: handler.NewRouter(deps)}
}

func (a *testAPI) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(username string) string {
	a.t.Helper()
	creds := map[string]string{"username": username, "password": "pw-" + username}
	require.Equal(a.t, http.StatusCreated, a.do(http.MethodPost, "/api/auth/register", "", creds).Code)

	rec := a.do(http.MethodPost, "/api/auth/login", "", creds)
	require.Equal(a.t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(a.t, username, out["username"])
	return out["token"]
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterAndLoginErrors(t *testing.T) {
	api := newTestAPI(t)
	api.login("alice")

	dup := api.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "alice", "password": "x"})
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, "用户名已存在", decode[map[string]string](t, dup)["error"])

	bad := api.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "../x", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	wrong := api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
	unknown := api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/chats", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/personas", "bogus", nil).Code)
}

func TestPersonaRoutes(t *testing.T) {
	api := newTestAPI(t)
	tok := api.login("alice")

	list := decode[[]map[string]any](t, api.do(http.MethodGet, "/api/personas", tok, nil))
	require.Len(t, list, 3)
	assert.Equal(t, "default", list[0]["id"])

	body := map[string]string{"id": "poet", "name": "诗人", "systemPrompt": "你是一位诗人。"}
	assert.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/personas", tok, body).Code)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, "/api/personas", tok, body).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/personas", tok, map[string]string{"id": "x"}).Code)
}

func TestChatLifecycle(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login("alice")
	bob := api.login("bob")

	created := api.do(http.MethodPost, "/api/chats", alice, map[string]string{"personaId": "legal"})
	require.Equal(t, http.StatusCreated, created.Code)
	c := decode[chatmodel.Chat](t, created)
	assert.Equal(t, "legal", c.PersonaID())

	sent := api.do(http.MethodPost, "/api/chats/"+c.ID+"/messages", alice, map[string]any{"content": "你好"})
	require.Equal(t, http.StatusOK, sent.Code)
	reply := decode[assistant.Reply](t, sent)
	assert.Equal(t, "回声：你好", reply.Content)

	deep := api.do(http.MethodPost, "/api/chats/"+c.ID+"/messages", alice, map[string]any{"content": "再想想", "deepThinking": true})
	require.Equal(t, http.StatusOK, deep.Code)
	assert.Contains(t, decode[assistant.Reply](t, deep).Content, "> 想一想")

	got := decode[chatmodel.Chat](t, api.do(http.MethodGet, "/api/chats/"+c.ID, alice, nil))
	require.Len(t, got.Messages, 4)
	assert.Equal(t, chatmodel.UserMessage("你好"), got.Messages[0])

	patch := api.do(http.MethodPatch, "/api/chats/"+c.ID, alice, map[string]string{"title": "咨询", "personaId": "medical"})
	assert.Equal(t, http.StatusNoContent, patch.Code)

	summaries := decode[[]chatmodel.Summary](t, api.do(http.MethodGet, "/api/chats", alice, nil))
	require.Len(t, summaries, 1)
	assert.Equal(t, "咨询", summaries[0].Title)
	assert.Equal(t, "medical", summaries[0].PersonaID)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/chats/"+c.ID, bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/chats/missing", alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/api/chats/"+c.ID+"/messages", bob, map[string]any{"content": "hi"}).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPatch, "/api/chats/"+c.ID, bob, map[string]string{"title": "x"}).Code)
	assert.Empty(t, decode[[]chatmodel.Summary](t, api.do(http.MethodGet, "/api/chats", bob, nil)))
}

func TestSendMessageValidation(t *testing.T) {
	api := newTestAPI(t)
	tok := api.login("alice")
	c := decode[chatmodel.Chat](t, api.do(http.MethodPost, "/api/chats", tok, nil))
	assert.Equal(t, "default", c.PersonaID())

	empty := api.do(http.MethodPost, "/api/chats/"+c.ID+"/messages", tok, map[string]any{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, empty.Code)

	unknown := api.do(http.MethodPost, "/api/chats/"+c.ID+"/messages", tok, map[string]any{"content": "hi", "personaId": "ghost"})
	assert.Equal(t, http.StatusBadRequest, unknown.Code)

	patch := api.do(http.MethodPatch, "/api/chats/"+c.ID, tok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, patch.Code)
}

func TestWebSocketConversation(t *testing.T) {
	api := newTestAPI(t)
	tok := api.login("alice")
	c := decode[chatmodel.Chat](t, api.do(http.MethodPost, "/api/chats", tok, nil))

	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/chats/" + c.ID + "?token=" + tok
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg["type"])
	assert.Equal(t, c.ID, msg["chatId"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "config", "data": map[string]any{"personaId": "medical", "deepThinking": true}}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "config", msg["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "头疼"}}))
	msg = nil
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "result", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Contains(t, data["content"], "回声：头疼")
	assert.Contains(t, data["content"], "> 想一想")
	assert.Equal(t, "medical", data["personaId"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	msg = nil
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg["type"])
}

func TestWebSocketRejectsForeignChat(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login("alice")
	bob := api.login("bob")
	c := decode[chatmodel.Chat](t, api.do(http.MethodPost, "/api/chats", alice, nil))

	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/chats/" + c.ID + "?token=" + bob
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthLimiterIgnoresSpoofedForwardedHeaders(t *testing.T) {
	api := newTestAPI(t, func(d *handler.Deps) {
		d.AuthLimiter = middleware.NewRateLimiter(0.001, 1, middleware.KeyByUserOrIP)
	})

	login := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"a","password":"b"}`))
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, login("198.51.100.1"))
	for _, spoofed := range []string{"198.51.100.2", "198.51.100.3", "10.9.8.7"} {
		assert.Equal(t, http.StatusTooManyRequests, login(spoofed), "spoofed %s", spoofed)
	}
}

func TestAuthLimiterHonoursTrustedProxy(t *testing.T) {
	api := newTestAPI(t, func(d *handler.Deps) {
		d.AuthLimiter = middleware.NewRateLimiter(0.001, 1, middleware.KeyByUserOrIP)
		d.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	})

	login := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"a","password":"b"}`))
		req.RemoteAddr = "10.0.0.2:40000"
		req.Header.Set("X-Forwarded-For", client+", 10.0.0.3")
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, login("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, login("198.51.100.1"))
	assert.Equal(t, http.StatusUnauthorized, login("198.51.100.2"), "distinct clients behind the proxy get their own bucket")
}

func TestPatchWithUnknownPersonaLeavesTitle(t *testing.T) {
	api := newTestAPI(t)
	tok := api.login("alice")
	c := decode[chatmodel.Chat](t, api.do(http.MethodPost, "/api/chats", tok, nil))

	patch := api.do(http.MethodPatch, "/api/chats/"+c.ID, tok, map[string]string{"title": "新标题", "personaId": "ghost"})
	assert.Equal(t, http.StatusBadRequest, patch.Code)

	got := decode[chatmodel.Chat](t, api.do(http.MethodGet, "/api/chats/"+c.ID, tok, nil))
	assert.Equal(t, c.Title(), got.Title())
	assert.Equal(t, "default", got.PersonaID())
}

func TestOversizedBodyRejected(t *testing.T) {
	api := newTestAPI(t)
	tok := api.login("alice")
	c := decode[chatmodel.Chat](t, api.do(http.MethodPost, "/api/chats", tok, nil))

	huge := strings.Repeat("字", 1<<19)
	rec := api.do(http.MethodPost, "/api/chats/"+c.ID+"/messages", tok, map[string]any{"content": huge})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got := decode[chatmodel.Chat](t, api.do(http.MethodGet, "/api/chats/"+c.ID, tok, nil))
	assert.Empty(t, got.Messages)
}
