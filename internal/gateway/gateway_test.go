package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/gateway"
	"github.com/basket/taskchat/internal/llm"
	"github.com/basket/taskchat/internal/store"
	"github.com/basket/taskchat/internal/tools"
)

type scriptedLLM struct {
	reply llm.Reply
}

func (c *scriptedLLM) Chat(context.Context, string, []llm.Turn, string) (llm.Reply, error) {
	return c.reply, nil
}

type testEnv struct {
	server *httptest.Server
	store  *store.Store
	issuer *auth.TokenIssuer
	llm    *scriptedLLM
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	client := &scriptedLLM{reply: llm.Reply{Text: "ok"}}
	chatSvc := chat.NewService(st, client, tools.NewTaskRegistry(st, nil), nil, nil, nil)

	gw := gateway.New(gateway.Config{
		Store:             st,
		Chat:              chatSvc,
		Issuer:            issuer,
		ToolCatalog:       tools.Catalog(),
		ConfigFingerprint: "cfg-test",
	})
	server := httptest.NewServer(gw.Handler())
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: st, issuer: issuer, llm: client}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.issuer.Sign(userID)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestGateway_SignupLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "Alice@Example.com",
		"password": "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["token_type"] != "bearer" || body["user_id"] != "alice@example.com" {
		t.Fatalf("unexpected signup response: %v", body)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access token")
	}

	resp, body = env.request(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "alice@example.com",
		"password": "other",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d", resp.StatusCode)
	}
	if body["detail"] != "Email already registered" {
		t.Fatalf("unexpected detail %v", body["detail"])
	}

	resp, _ = env.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}

	resp, body = env.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", resp.StatusCode)
	}
	if body["detail"] != "Incorrect email or password" {
		t.Fatalf("unexpected detail %v", body["detail"])
	}
}

func TestGateway_AuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/api/u/tasks", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body["detail"] != "Not authenticated" {
		t.Fatalf("unexpected detail %v", body["detail"])
	}

	resp, _ = env.request(t, http.MethodGet, "/api/u/tasks", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", resp.StatusCode)
	}
}

func TestGateway_UserIDMismatch(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "alice@example.com")

	resp, body := env.request(t, http.MethodGet, "/api/bob@example.com/tasks", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if body["detail"] != "User ID mismatch" {
		t.Fatalf("unexpected detail %v", body["detail"])
	}
}

func TestGateway_TaskCRUD(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "alice@example.com")

	resp, created := env.request(t, http.MethodPost, "/api/alice@example.com/tasks", token, map[string]any{
		"title":    "Buy milk",
		"priority": "high",
		"due_date": "2026-09-15",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%v)", resp.StatusCode, created)
	}
	id := int64(created["id"].(float64))

	resp, got := env.request(t, http.MethodGet, taskPath(id), token, nil)
	if resp.StatusCode != http.StatusOK || got["title"] != "Buy milk" {
		t.Fatalf("get: %d %v", resp.StatusCode, got)
	}

	resp, got = env.request(t, http.MethodPut, taskPath(id), token, map[string]any{
		"title":    "Buy oat milk",
		"priority": "low",
	})
	if resp.StatusCode != http.StatusOK || got["title"] != "Buy oat milk" || got["priority"] != "low" {
		t.Fatalf("update: %d %v", resp.StatusCode, got)
	}

	resp, _ = env.request(t, http.MethodDelete, taskPath(id), token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}

	resp, body := env.request(t, http.MethodGet, taskPath(id), token, nil)
	if resp.StatusCode != http.StatusNotFound || body["detail"] != "Task not found" {
		t.Fatalf("get after delete: %d %v", resp.StatusCode, body)
	}
}

func taskPath(id int64) string {
	return "/api/alice@example.com/tasks/" + jsonNumber(id)
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestGateway_TaskValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "alice@example.com")

	cases := []struct {
		name   string
		body   map[string]any
		detail string
	}{
		{"empty title", map[string]any{"title": "  "}, "Title cannot be empty"},
		{"bad priority", map[string]any{"title": "t", "priority": "urgent"}, "Priority must be one of: low, medium, high"},
		{"bad recurrence", map[string]any{"title": "t", "recurrence": "hourly"}, "Recurrence must be one of: none, daily, weekly, monthly"},
		{"bad due date", map[string]any{"title": "t", "due_date": "tomorrow"}, "due_date must be in YYYY-MM-DD format"},
	}
	for _, tc := range cases {
		resp, body := env.request(t, http.MethodPost, "/api/alice@example.com/tasks", token, tc.body)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", tc.name, resp.StatusCode)
		}
		if body["detail"] != tc.detail {
			t.Fatalf("%s: expected %q, got %v", tc.name, tc.detail, body["detail"])
		}
	}
}

func TestGateway_ForeignTaskLooksMissing(t *testing.T) {
	env := newTestEnv(t)

	foreign, err := env.store.CreateTask(context.Background(), store.Task{
		UserID: "bob@example.com", Title: "theirs", Priority: "low",
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}

	token := env.token(t, "alice@example.com")
	resp, body := env.request(t, http.MethodGet, taskPath(foreign.ID), token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign task, got %d (%v)", resp.StatusCode, body)
	}
}

func TestGateway_ChatEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.llm.reply = llm.Reply{
		Text: "on it",
		ToolCalls: []llm.ToolCall{{
			Name:      "add_task",
			Arguments: map[string]any{"title": "Buy milk"},
		}},
	}
	token := env.token(t, "alice@example.com")

	resp, body := env.request(t, http.MethodPost, "/api/alice@example.com/chat", token, map[string]any{
		"message": "remind me to buy milk",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["message"] != "I've added 'Buy milk' to your tasks!" {
		t.Fatalf("unexpected reply %v", body["message"])
	}
	if body["conversation_id"] == nil {
		t.Fatalf("expected conversation_id in response")
	}

	resp, body = env.request(t, http.MethodPost, "/api/alice@example.com/chat", token, map[string]any{
		"message": "",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("empty message: expected 422, got %d (%v)", resp.StatusCode, body)
	}

	resp, body = env.request(t, http.MethodPost, "/api/alice@example.com/chat", token, map[string]any{
		"message":         "hi",
		"conversation_id": 424242,
	})
	if resp.StatusCode != http.StatusNotFound || body["detail"] != "Conversation not found" {
		t.Fatalf("missing conversation: %d %v", resp.StatusCode, body)
	}
}

func TestGateway_ConversationsAndMessages(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "alice@example.com")

	resp, chatBody := env.request(t, http.MethodPost, "/api/alice@example.com/chat", token, map[string]any{
		"message": "hello there",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d", resp.StatusCode)
	}
	convID := int64(chatBody["conversation_id"].(float64))

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/alice@example.com/conversations", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	defer listResp.Body.Close()
	var convs []map[string]any
	if err := json.NewDecoder(listResp.Body).Decode(&convs); err != nil {
		t.Fatalf("decode conversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}

	msgReq, err := http.NewRequest(http.MethodGet,
		env.server.URL+"/api/alice@example.com/conversations/"+jsonNumber(convID)+"/messages", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	msgReq.Header.Set("Authorization", "Bearer "+token)
	msgResp, err := http.DefaultClient.Do(msgReq)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	defer msgResp.Body.Close()
	var msgs []map[string]any
	if err := json.NewDecoder(msgResp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	// Chronological order: user first.
	if msgs[0]["role"] != "user" || msgs[1]["role"] != "assistant" {
		t.Fatalf("unexpected message order: %v", msgs)
	}
}

func TestGateway_HealthzAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["healthy"] != true {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}

	resp, body = env.request(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", resp.StatusCode)
	}
	if body["config_hash"] != "cfg-test" {
		t.Fatalf("unexpected config_hash %v", body["config_hash"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestGateway_ToolCatalog(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/api/tools", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	toolList, ok := body["tools"].([]any)
	if !ok || len(toolList) != 6 {
		t.Fatalf("expected 6 tools, got %v", body["tools"])
	}
}
