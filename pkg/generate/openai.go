package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/papercomputeco/quill/pkg/llm"
)

// DefaultOpenAIURL is used when an openai config has no API URL.
const DefaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIAdapter speaks the OpenAI-compatible chat completions dialect.
type OpenAIAdapter struct{}

var _ Adapter = OpenAIAdapter{}

type openAIRequest struct {
	Model          string                               `json:"model"`
	Messages       []openai.ChatCompletionMessage       `json:"messages"`
	Temperature    float64                              `json:"temperature"`
	Stream         bool                                 `json:"stream"`
	ResponseFormat *openai.ChatCompletionResponseFormat `json:"response_format,omitempty"`
}

// openAIResponse covers both full completions and stream chunks. Images are
// a provider extension (OpenRouter and friends) absent from go-openai.
type openAIResponse struct {
	Choices []openAIChoice  `json:"choices"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      *openAIMessage `json:"message,omitempty"`
	Delta        *openAIDelta   `json:"delta,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

type openAIMessage struct {
	Content json.RawMessage `json:"content"`
	Images  []llm.Image     `json:"images,omitempty"`
}

type openAIDelta struct {
	openai.ChatCompletionStreamChoiceDelta
	Images []llm.Image `json:"images,omitempty"`
}

func (OpenAIAdapter) NewRequest(ctx context.Context, req llm.Request) (*http.Request, error) {
	body := openAIRequest{
		Model:       req.Config.Model,
		Messages:    make([]openai.ChatCompletionMessage, len(req.Messages)),
		Temperature: req.ResolvedTemperature(),
		Stream:      req.Stream,
	}
	for i, m := range req.Messages {
		body.Messages[i] = toOpenAIMessage(m)
	}
	if req.WantsJSON() {
		body.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := endpoint(req.Config.APIURL, DefaultOpenAIURL, "/chat/completions")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	if req.Config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Config.APIKey)
	}
	return httpReq, nil
}

func (OpenAIAdapter) DecodeResponse(body []byte) (*llm.Result, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode chat completion: %w", err)
	}
	if msg, ok := decodeOpenAIError(resp.Error); ok {
		return &llm.Result{Error: msg}, nil
	}
	if len(resp.Choices) == 0 {
		return &llm.Result{Error: "response contained no choices"}, nil
	}

	choice := resp.Choices[0]
	result := &llm.Result{}
	switch {
	case choice.Message != nil:
		result.Content, result.Images = decodeOpenAIContent(choice.Message.Content)
		result.Images = append(result.Images, choice.Message.Images...)
	case choice.Delta != nil:
		result.Content = choice.Delta.Content
		result.Images = choice.Delta.Images
	}
	return result, nil
}

func (OpenAIAdapter) DecodeChunk(payload []byte) (Chunk, error) {
	var resp openAIResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Chunk{}, fmt.Errorf("decode chunk: %w", err)
	}
	if msg, ok := decodeOpenAIError(resp.Error); ok {
		return Chunk{Error: msg}, nil
	}
	if len(resp.Choices) == 0 {
		// usage-only and keep-alive chunks
		return Chunk{}, nil
	}

	choice := resp.Choices[0]
	switch {
	case choice.Delta != nil:
		return Chunk{Text: choice.Delta.Content, Images: choice.Delta.Images}, nil
	case choice.Message != nil:
		text, images := decodeOpenAIContent(choice.Message.Content)
		return Chunk{Text: text, Images: append(images, choice.Message.Images...)}, nil
	}
	return Chunk{}, nil
}

func (OpenAIAdapter) DecodeError(body []byte) (string, bool) {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", false
	}
	if msg, ok := decodeOpenAIError(env.Error); ok {
		return msg, true
	}
	if env.Message != "" {
		return env.Message, true
	}
	return "", false
}

func toOpenAIMessage(m llm.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Role: string(m.Role)}
	if !m.IsMultipart() {
		msg.Content = m.Text
		return msg
	}

	msg.MultiContent = make([]openai.ChatMessagePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case llm.PartText:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case llm.PartImageURL:
			if p.ImageURL == nil {
				continue
			}
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL.URL},
			})
		}
	}
	return msg
}

// decodeOpenAIContent handles message content that is either a string or an
// array of parts, the latter carrying inline image results.
func decodeOpenAIContent(raw json.RawMessage) (string, []llm.Image) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var parts []llm.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil
	}
	var (
		buf    bytes.Buffer
		images []llm.Image
	)
	for _, p := range parts {
		switch p.Type {
		case llm.PartText:
			buf.WriteString(p.Text)
		case llm.PartImageURL:
			if p.ImageURL != nil && p.ImageURL.URL != "" {
				images = append(images, llm.NewImage(p.ImageURL.URL))
			}
		}
	}
	return buf.String(), images
}

// decodeOpenAIError accepts both {"error": {"message": ...}} and the looser
// {"error": "..."} some compatible servers return.
func decodeOpenAIError(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, text != ""
	}

	var apiErr openai.APIError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message, true
	}
	return truncate(string(raw), 256), true
}
