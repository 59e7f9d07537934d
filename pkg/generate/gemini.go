package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"google.golang.org/genai"

	"github.com/papercomputeco/quill/pkg/llm"
)

// DefaultGeminiURL is used when a gemini config has no API URL.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter speaks the Generative Language REST dialect, reusing the
// genai SDK's wire types. Streaming uses the alt=sse framing.
type GeminiAdapter struct{}

var _ Adapter = GeminiAdapter{}

type geminiRequest struct {
	Contents          []*genai.Content       `json:"contents"`
	SystemInstruction *genai.Content         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (GeminiAdapter) NewRequest(ctx context.Context, req llm.Request) (*http.Request, error) {
	body := geminiRequest{
		GenerationConfig: geminiGenerationConfig{Temperature: req.ResolvedTemperature()},
	}
	if req.WantsJSON() {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}

	for _, m := range req.Messages {
		parts, err := toGeminiParts(m)
		if err != nil {
			return nil, err
		}
		if m.Role == llm.RoleSystem {
			if body.SystemInstruction == nil {
				body.SystemInstruction = &genai.Content{}
			}
			body.SystemInstruction.Parts = append(body.SystemInstruction.Parts, parts...)
			continue
		}
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, &genai.Content{Role: role, Parts: parts})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	method := ":generateContent"
	if req.Stream {
		method = ":streamGenerateContent?alt=sse"
	}
	target := endpoint(req.Config.APIURL, DefaultGeminiURL, "/models/"+url.PathEscape(strings.TrimPrefix(req.Config.Model, "models/"))+method)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Config.APIKey != "" {
		httpReq.Header.Set("x-goog-api-key", req.Config.APIKey)
	}
	return httpReq, nil
}

func (a GeminiAdapter) DecodeResponse(body []byte) (*llm.Result, error) {
	chunk, err := a.decode(body)
	if err != nil {
		return nil, err
	}
	if chunk.Error != "" {
		return &llm.Result{Error: chunk.Error}, nil
	}
	return &llm.Result{Content: chunk.Text, Images: chunk.Images}, nil
}

func (a GeminiAdapter) DecodeChunk(payload []byte) (Chunk, error) {
	return a.decode(payload)
}

func (GeminiAdapter) DecodeError(body []byte) (string, bool) {
	var env geminiError
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil || env.Error.Message == "" {
		return "", false
	}
	return env.Error.Message, true
}

func (a GeminiAdapter) decode(body []byte) (Chunk, error) {
	if msg, ok := a.DecodeError(body); ok {
		return Chunk{Error: msg}, nil
	}

	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Chunk{}, fmt.Errorf("decode generate content response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return Chunk{Error: "prompt blocked: " + string(resp.PromptFeedback.BlockReason)}, nil
		}
		return Chunk{}, nil
	}

	cand := resp.Candidates[0]
	var chunk Chunk
	if cand.Content != nil {
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text.WriteString(part.Text)
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				chunk.Images = append(chunk.Images, llm.NewImage(llm.DataURI(part.InlineData.MIMEType, part.InlineData.Data)))
			}
		}
		chunk.Text = text.String()
	}
	if chunk.Text == "" && len(chunk.Images) == 0 && string(cand.FinishReason) == "SAFETY" {
		chunk.Error = "response blocked by safety settings"
	}
	return chunk, nil
}

func toGeminiParts(m llm.Message) ([]*genai.Part, error) {
	if !m.IsMultipart() {
		return []*genai.Part{genai.NewPartFromText(m.Text)}, nil
	}

	parts := make([]*genai.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case llm.PartText:
			parts = append(parts, genai.NewPartFromText(p.Text))
		case llm.PartImageURL:
			if p.ImageURL == nil {
				continue
			}
			if llm.IsDataURI(p.ImageURL.URL) {
				mimeType, data, err := llm.ParseDataURI(p.ImageURL.URL)
				if err != nil {
					return nil, fmt.Errorf("image part: %w", err)
				}
				parts = append(parts, genai.NewPartFromBytes(data, mimeType))
				continue
			}
			parts = append(parts, genai.NewPartFromURI(p.ImageURL.URL, mimeFromURL(p.ImageURL.URL)))
		}
	}
	return parts, nil
}

func mimeFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err == nil {
		if t := mime.TypeByExtension(path.Ext(u.Path)); t != "" {
			return t
		}
	}
	return "image/jpeg"
}
