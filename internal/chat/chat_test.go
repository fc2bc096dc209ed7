package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const okBody = `{
	"id": "test-123",
	"model": "test-model",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Test response"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestComplete_Success(t *testing.T) {
	var got completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header 'Bearer test-key', got '%s'", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	client := NewClient(nil)
	msg, err := client.Complete(context.Background(), Endpoint{
		BaseURL:            server.URL + "/v1/",
		ModelName:          "test-model",
		Temperature:        0.7,
		RateLimitPerMinute: 60,
	}, "test-key", []Message{{Role: "user", Content: "Test message"}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if msg.Content != "Test response" {
		t.Errorf("Expected content 'Test response', got '%s'", msg.Content)
	}
	if got.Model != "test-model" || got.N != 1 || len(got.Messages) != 1 {
		t.Errorf("request = %+v", got)
	}
}

func TestComplete_RetryOn500(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"message": "Server error"}}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	client := NewClient(nil)
	client.baseRetryDelay = 1

	msg, err := client.Complete(context.Background(), Endpoint{BaseURL: server.URL, ModelName: "test"}, "", []Message{{Role: "user", Content: "x"}})
	if err != nil {
		t.Fatalf("Expected success after retries, got error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts (2 retries), got %d", attempts.Load())
	}
	if msg.Content != "Test response" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestComplete_NoRetryOn400(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad model", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(nil)
	client.baseRetryDelay = 1

	_, err := client.Complete(context.Background(), Endpoint{BaseURL: server.URL, ModelName: "test"}, "", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "bad model" || apiErr.Retryable {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestClientResponder(t *testing.T) {
	var got completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	r := &ClientResponder{
		Client:       NewClient(nil),
		Endpoint:     Endpoint{BaseURL: server.URL, ModelName: "m"},
		SystemPrompt: "be brief",
	}
	history := []Turn{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}
	turn, err := r.Respond(context.Background(), history, "how are you")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Role != RoleAssistant || turn.Content != "Test response" {
		t.Errorf("turn = %+v", turn)
	}

	roles := make([]string, len(got.Messages))
	for i, m := range got.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Errorf("roles = %v", roles)
	}
	if got.Messages[3].Content != "how are you" {
		t.Errorf("last message = %+v", got.Messages[3])
	}
}

func TestSessionNewestFirst(t *testing.T) {
	s := NewSession(EchoResponder{})
	ctx := context.Background()
	for _, msg := range []string{"first question", "second question"} {
		reply, err := s.Send(ctx, msg)
		if err != nil {
			t.Fatal(err)
		}
		if reply.Content != msg {
			t.Errorf("echo = %q, want %q", reply.Content, msg)
		}
	}

	if h := s.History(); len(h) != 4 || h[0].Content != "first question" || h[3].Role != RoleAssistant {
		t.Fatalf("history = %+v", h)
	}
	out := s.Render()
	if strings.Index(out, "second question") > strings.Index(out, "first question") {
		t.Errorf("newest turn should render first:\n%s", out)
	}
}

type failingResponder struct{}

func (failingResponder) Respond(context.Context, []Turn, string) (Turn, error) {
	return Turn{}, errors.New("backend down")
}

func TestSessionFailedReplyKeepsHistory(t *testing.T) {
	s := NewSession(failingResponder{})
	if _, err := s.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(s.History()) != 0 {
		t.Errorf("history = %+v, want empty", s.History())
	}
}

func TestRun(t *testing.T) {
	in := strings.NewReader("hello there\n\n/history\n/quit\nnever sent\n")
	var out strings.Builder
	if err := Run(context.Background(), in, &out, EchoResponder{}); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	if strings.Count(text, "hello there") < 2 {
		t.Errorf("expected echoed turn in output:\n%s", text)
	}
	if strings.Contains(text, "never sent") {
		t.Errorf("input after /quit was processed:\n%s", text)
	}
}

func TestRunReportsResponderErrors(t *testing.T) {
	var out strings.Builder
	if err := Run(context.Background(), strings.NewReader("hi\n"), &out, failingResponder{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "backend down") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRenderSystemPrompt(t *testing.T) {
	got, err := RenderSystemPrompt("You answer questions about {{.Corpus}}.", map[string]any{"Corpus": "medicine"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "You answer questions about medicine." {
		t.Errorf("got %q", got)
	}

	if _, err := RenderSystemPrompt("{{.Missing}}", map[string]any{}); err == nil {
		t.Error("expected missing key error")
	}
	if _, err := RenderSystemPrompt(`{{define "x"}}{{end}}`, nil); err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Errorf("err = %v, want forbidden directive", err)
	}
}

func TestRateLimiterPoolReuse(t *testing.T) {
	p := NewRateLimiterPool(nil)
	a := p.GetOrCreate("k", 60)
	b := p.GetOrCreate("k", 120)
	if a != b {
		t.Error("expected the existing limiter to be reused")
	}
	if err := p.Wait(context.Background(), "unlimited", 0); err != nil {
		t.Fatal(err)
	}
}
