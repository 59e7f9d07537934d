package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/papercomputeco/quill/pkg/llm"
)

// DefaultOllamaURL is used when an ollama config has no API URL.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaAdapter speaks Ollama's native /api/chat dialect. Streaming
// responses are newline-delimited JSON objects.
type OllamaAdapter struct{}

var _ Adapter = OllamaAdapter{}

// ollamaMessage represents a single message in Ollama's chat format.
type ollamaMessage struct {
	Role    string   `json:"role"`             // "system", "user", "assistant"
	Content string   `json:"content"`          // The message content
	Images  []string `json:"images,omitempty"` // Optional base64-encoded images (for multimodal)
}

// ollamaOptions contains model inference parameters.
type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"` // Creativity (0.0-2.0)
}

// ollamaRequest represents a chat request.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   *bool           `json:"stream"`           // Ollama defaults to streaming when absent
	Format   string          `json:"format,omitempty"` // "json" for JSON mode
	Options  *ollamaOptions  `json:"options,omitempty"`
}

// ollamaResponse is both the non-streaming response and a single stream chunk.
type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`

	// Metrics (only present when done=true)
	TotalDuration int64 `json:"total_duration,omitempty"`
	EvalCount     int   `json:"eval_count,omitempty"`
}

func (OllamaAdapter) NewRequest(ctx context.Context, req llm.Request) (*http.Request, error) {
	stream := req.Stream
	body := ollamaRequest{
		Model:    req.Config.Model,
		Messages: make([]ollamaMessage, len(req.Messages)),
		Stream:   &stream,
		Options:  &ollamaOptions{Temperature: llm.Float64(req.ResolvedTemperature())},
	}
	if req.WantsJSON() {
		body.Format = "json"
	}

	for i, m := range req.Messages {
		msg := ollamaMessage{Role: string(m.Role), Content: m.PlainText()}
		for _, url := range m.ImageURLs() {
			payload, err := llm.DataURIPayload(url)
			if err != nil {
				return nil, fmt.Errorf("ollama accepts inline images only, got %q", truncate(url, 64))
			}
			msg.Images = append(msg.Images, payload)
		}
		body.Messages[i] = msg
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := endpoint(req.Config.APIURL, DefaultOllamaURL, "/api/chat")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Config.APIKey)
	}
	return httpReq, nil
}

func (OllamaAdapter) DecodeResponse(body []byte) (*llm.Result, error) {
	// A non-streaming reply is a single object, but some servers stream
	// anyway; fold any NDJSON body into one result.
	var (
		content strings.Builder
		decoded bool
	)
	dec := json.NewDecoder(bytes.NewReader(body))
	for dec.More() {
		var resp ollamaResponse
		if err := dec.Decode(&resp); err != nil {
			if decoded {
				break
			}
			return nil, fmt.Errorf("decode chat response: %w", err)
		}
		decoded = true
		if resp.Error != "" {
			return &llm.Result{Error: resp.Error}, nil
		}
		content.WriteString(resp.Message.Content)
		if resp.Done {
			break
		}
	}
	if !decoded {
		return nil, fmt.Errorf("decode chat response: empty body")
	}
	return &llm.Result{Content: content.String()}, nil
}

func (OllamaAdapter) DecodeChunk(payload []byte) (Chunk, error) {
	var resp ollamaResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Chunk{}, fmt.Errorf("decode chunk: %w", err)
	}
	if resp.Error != "" {
		return Chunk{Error: resp.Error}, nil
	}
	return Chunk{Text: resp.Message.Content, Done: resp.Done}, nil
}

func (OllamaAdapter) DecodeError(body []byte) (string, bool) {
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error == "" {
		return "", false
	}
	return resp.Error, true
}
