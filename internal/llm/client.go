// Package llm provides the synthesis client used by smart queries: retrieval
// results are handed to a chat-completion model which produces a cited
// natural-language answer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// Passage is one retrieved chunk offered to the model as evidence.
type Passage struct {
	SourcePath string `json:"source_path"`
	Dataset    string `json:"dataset"`
	Content    string `json:"content"`
}

// Answer is the synthesized result.
type Answer struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations,omitempty"`
}

// Client calls a chat-completions style endpoint.
type Client struct {
	cfg    config.LLMConfig
	client *http.Client
	log    *logger.Logger
}

// NewClient creates a synthesis client. Returns nil when synthesis is not
// configured; callers treat a nil client as "smart query disabled".
func NewClient(cfg config.LLMConfig, log *logger.Logger) *Client {
	if !cfg.Enabled() {
		return nil
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
		log:    log,
	}
}

const systemPrompt = `You answer questions about an indexed code and document corpus.
Use only the provided passages as evidence. Respond with a JSON object:
{"answer": "<answer text>", "citations": ["<source_path>", ...]}
Cite every passage you relied on by its source_path. If the passages do not
contain the answer, say so in the answer field.`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Synthesize produces a cited answer from retrieved passages.
func (c *Client) Synthesize(ctx context.Context, query string, passages []Passage) (*Answer, error) {
	var evidence strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&evidence, "[passage %d] %s (dataset %s)\n%s\n\n", i+1, p.SourcePath, p.Dataset, p.Content)
	}

	reqBody := chatRequest{
		Model: c.cfg.ModelName,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nPassages:\n%s", query, evidence.String())},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.InternalError("encoding llm request", err)
	}

	url := strings.TrimSuffix(c.cfg.APIBase, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("building llm request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.LLMError("llm request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.LLMError("reading llm response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.LLMError(fmt.Sprintf("llm returned status %d", resp.StatusCode), nil)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, errors.LLMError("llm returned unparseable response", err)
	}
	if chat.Error != nil {
		return nil, errors.LLMError(chat.Error.Message, nil)
	}
	if len(chat.Choices) == 0 {
		return nil, errors.LLMError("llm returned no choices", nil)
	}

	return parseAnswer(chat.Choices[0].Message.Content)
}

// parseAnswer decodes the model's JSON payload, distinguishing an empty
// answer from invalid JSON.
func parseAnswer(content string) (*Answer, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil, errors.LLMError("model returned an empty answer", nil)
	}

	var answer Answer
	if err := json.Unmarshal([]byte(content), &answer); err != nil {
		return nil, errors.LLMError("model returned invalid JSON", err)
	}
	if strings.TrimSpace(answer.Answer) == "" {
		return nil, errors.LLMError("model returned an empty answer", nil)
	}
	return &answer, nil
}

// stripCodeFence unwraps ```json fenced blocks models often emit.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
