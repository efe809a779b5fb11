// Package llm implements the outbound chat-completion client and the
// tolerant JSON extraction applied to its responses.
//
// One generation call is bounded by a hard timeout enforced through context
// cancellation, kept strictly shorter than the caller's own deadline so a
// stuck call is abortable first. The client never retries transport
// failures itself — correction retries are a pipeline concern.
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

	"github.com/Kubotie/marketing-ai-sub000/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// clientHeader identifies this backend to the generation service.
const clientHeader = "marketing-ai-core"

// maxErrorExcerpt caps how much of an unrecognized error body is surfaced.
const maxErrorExcerpt = 300

// TransportError is a network or HTTP-level generation failure: a non-2xx
// status, an unreachable endpoint, a timeout, or a body that is not the
// expected JSON (an HTML error page, typically).
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generation transport error (status %d): %s", e.Status, e.Message)
	}
	return "generation transport error: " + e.Message
}

// Client calls a chat-completion endpoint.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
}

// NewClient builds a client from generation config.
func NewClient(cfg config.GenerationConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	return &Client{
		// The http.Client timeout backstops the per-call context timeout.
		httpClient:  &http.Client{Timeout: timeout + 5*time.Second},
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one chat-completion request and returns the response text.
// Model may be empty to use the configured default. All failures come back
// as *TransportError.
func (c *Client) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if model == "" {
		model = c.model
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.temperature,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", &TransportError{Message: "encode request: " + err.Error()}
	}

	url := c.endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Client", clientHeader)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", &TransportError{Message: "timeout"}
		}
		return "", &TransportError{Message: err.Error()}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", &TransportError{Status: httpResp.StatusCode, Message: "read response: " + err.Error()}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", &TransportError{Status: httpResp.StatusCode, Message: classifyErrorBody(respBody)}
	}

	// Some proxies answer 200 with an HTML error page instead of JSON.
	if looksLikeHTML(respBody) {
		return "", &TransportError{Status: httpResp.StatusCode, Message: "server returned HTML instead of JSON"}
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &TransportError{Status: httpResp.StatusCode, Message: "decode response: " + err.Error()}
	}
	if len(resp.Choices) == 0 {
		return "", &TransportError{Status: httpResp.StatusCode, Message: "response has no choices"}
	}

	log.Debug().
		Str("model", model).
		Dur("latency", time.Since(start)).
		Int("chars", len(resp.Choices[0].Message.Content)).
		Msg("Generation call complete")

	return resp.Choices[0].Message.Content, nil
}

// classifyErrorBody turns an error body into a user-actionable message.
func classifyErrorBody(body []byte) string {
	if looksLikeHTML(body) {
		return "server returned HTML instead of JSON"
	}

	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		m := msg.String()
		if isContextLengthError(m) {
			return "context length exceeded — reduce connected inputs or lower the knowledge budget: " + m
		}
		return m
	}

	excerpt := strings.TrimSpace(string(body))
	if len(excerpt) > maxErrorExcerpt {
		excerpt = excerpt[:maxErrorExcerpt] + "..."
	}
	return excerpt
}

func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

func isContextLengthError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context_length_exceeded") ||
		strings.Contains(lower, "maximum context")
}
