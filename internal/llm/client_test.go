package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/claudecontext/claude-context/internal/config"
	apperrors "github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(baseURL string) *Client {
	return NewClient(config.LLMConfig{
		APIKey:      "key",
		APIBase:     baseURL,
		ModelName:   "test-model",
		MaxTokens:   1024,
		Temperature: 0.2,
	}, logger.New("error", "text"))
}

func TestNewClientDisabled(t *testing.T) {
	if c := NewClient(config.LLMConfig{}, logger.New("error", "text")); c != nil {
		t.Error("unconfigured llm should yield a nil client")
	}
}

func TestSynthesize(t *testing.T) {
	srv := chatServer(t, `{"answer": "Use the login handler.", "citations": ["auth/login.go"]}`)
	defer srv.Close()

	answer, err := testClient(srv.URL).Synthesize(context.Background(), "how do I log in?", []Passage{
		{SourcePath: "auth/login.go", Dataset: "github-main", Content: "func Login() {}"},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if answer.Answer != "Use the login handler." {
		t.Errorf("answer = %q", answer.Answer)
	}
	if len(answer.Citations) != 1 || answer.Citations[0] != "auth/login.go" {
		t.Errorf("citations = %v", answer.Citations)
	}
}

func TestSynthesizeFencedJSON(t *testing.T) {
	srv := chatServer(t, "```json\n{\"answer\": \"ok\", \"citations\": []}\n```")
	defer srv.Close()

	answer, err := testClient(srv.URL).Synthesize(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if answer.Answer != "ok" {
		t.Errorf("answer = %q", answer.Answer)
	}
}

func TestSynthesizeInvalidJSON(t *testing.T) {
	srv := chatServer(t, "I think the answer is probably the login handler.")
	defer srv.Close()

	_, err := testClient(srv.URL).Synthesize(context.Background(), "q", nil)
	if !apperrors.HasCode(err, apperrors.CodeLLM) {
		t.Fatalf("expected LLM error, got %v", err)
	}
	if got := err.Error(); !contains(got, "invalid JSON") {
		t.Errorf("invalid JSON must be reported distinctly, got %q", got)
	}
}

func TestSynthesizeEmptyAnswer(t *testing.T) {
	srv := chatServer(t, `{"answer": "   ", "citations": []}`)
	defer srv.Close()

	_, err := testClient(srv.URL).Synthesize(context.Background(), "q", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !contains(got, "empty answer") {
		t.Errorf("empty answer must be reported distinctly, got %q", got)
	}
}

func TestSynthesizeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).Synthesize(context.Background(), "q", nil); err == nil {
		t.Error("expected error for non-2xx response")
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
