package generate_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quill/pkg/generate"
	"github.com/papercomputeco/quill/pkg/llm"
)

const pngURI = "data:image/png;base64,iVBORw0KGgo="

func decodeBody(r *http.Request) map[string]any {
	GinkgoHelper()
	data, err := io.ReadAll(r.Body)
	Expect(err).NotTo(HaveOccurred())
	var out map[string]any
	Expect(json.Unmarshal(data, &out)).To(Succeed())
	return out
}

var _ = Describe("Adapters", func() {
	ctx := context.Background()

	Describe("OpenAIAdapter", func() {
		adapter := generate.OpenAIAdapter{}

		It("preserves part order in multimodal content", func() {
			req := llm.Request{
				Config: llm.GenerationConfig{Model: "gpt-4o"},
				Messages: []llm.Message{
					llm.NewText(llm.RoleSystem, "be brief"),
					llm.NewParts(llm.RoleUser,
						llm.ImagePart(pngURI),
						llm.TextPart("what is this?"),
					),
				},
			}

			httpReq, err := adapter.NewRequest(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(httpReq.URL.String()).To(Equal(generate.DefaultOpenAIURL + "/chat/completions"))
			Expect(httpReq.Header.Get("Accept")).To(Equal("application/json"))

			body := decodeBody(httpReq)
			messages := body["messages"].([]any)
			Expect(messages).To(HaveLen(2))
			Expect(messages[0]).To(HaveKeyWithValue("role", "system"))
			Expect(messages[0]).To(HaveKeyWithValue("content", "be brief"))

			parts := messages[1].(map[string]any)["content"].([]any)
			Expect(parts).To(HaveLen(2))
			Expect(parts[0]).To(HaveKeyWithValue("type", "image_url"))
			Expect(parts[0].(map[string]any)["image_url"]).To(HaveKeyWithValue("url", pngURI))
			Expect(parts[1]).To(HaveKeyWithValue("type", "text"))
			Expect(parts[1]).To(HaveKeyWithValue("text", "what is this?"))
		})

		It("decodes content part arrays with inline images", func() {
			res, err := adapter.DecodeResponse([]byte(`{"choices":[{"message":{"content":[{"type":"text","text":"a "},{"type":"image_url","image_url":{"url":"` + pngURI + `"}},{"type":"text","text":"cat"}]}}]}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(Equal("a cat"))
			Expect(res.Images).To(Equal([]llm.Image{llm.NewImage(pngURI)}))
		})

		It("reports an empty choices list as a provider error", func() {
			res, err := adapter.DecodeResponse([]byte(`{"choices":[]}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(Equal("response contained no choices"))
		})

		It("treats usage-only stream chunks as empty", func() {
			chunk, err := adapter.DecodeChunk([]byte(`{"choices":[],"usage":{"total_tokens":12}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk).To(Equal(generate.Chunk{}))
		})

		It("accepts the loose error shapes of compatible servers", func() {
			msg, ok := adapter.DecodeError([]byte(`{"error":"model not found"}`))
			Expect(ok).To(BeTrue())
			Expect(msg).To(Equal("model not found"))

			msg, ok = adapter.DecodeError([]byte(`{"message":"rate limited"}`))
			Expect(ok).To(BeTrue())
			Expect(msg).To(Equal("rate limited"))

			_, ok = adapter.DecodeError([]byte(`{"choices":[]}`))
			Expect(ok).To(BeFalse())
		})
	})

	Describe("OllamaAdapter", func() {
		adapter := generate.OllamaAdapter{}

		It("sends base64 image payloads and JSON format", func() {
			req := llm.Request{
				Config: llm.GenerationConfig{Provider: llm.ProviderOllama, Model: "llava"},
				Messages: []llm.Message{
					llm.NewParts(llm.RoleUser, llm.TextPart("describe"), llm.ImagePart(pngURI)),
				},
				Temperature:    llm.Float64(0.2),
				ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
			}

			httpReq, err := adapter.NewRequest(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(httpReq.URL.String()).To(Equal(generate.DefaultOllamaURL + "/api/chat"))
			Expect(httpReq.Header.Get("Authorization")).To(BeEmpty())

			body := decodeBody(httpReq)
			Expect(body["stream"]).To(BeFalse())
			Expect(body["format"]).To(Equal("json"))
			Expect(body["options"]).To(HaveKeyWithValue("temperature", 0.2))

			msg := body["messages"].([]any)[0].(map[string]any)
			Expect(msg["content"]).To(Equal("describe"))
			Expect(msg["images"]).To(Equal([]any{"iVBORw0KGgo="}))
		})

		It("rejects remote image URLs", func() {
			req := llm.Request{
				Messages: []llm.Message{llm.NewParts(llm.RoleUser, llm.ImagePart("https://example.com/cat.png"))},
			}
			_, err := adapter.NewRequest(ctx, req)
			Expect(err).To(MatchError(ContainSubstring("inline images only")))
		})

		It("folds an NDJSON body into one result", func() {
			body := `{"message":{"role":"assistant","content":"hel"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":"lo"},"done":true,"eval_count":2}` + "\n"
			res, err := adapter.DecodeResponse([]byte(body))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(Equal("hello"))
		})

		It("marks the final stream chunk as done", func() {
			chunk, err := adapter.DecodeChunk([]byte(`{"message":{"content":""},"done":true}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.Done).To(BeTrue())
		})

		It("streams NDJSON through the client", func() {
			hc, _ := stubClient(200, "application/x-ndjson",
				`{"message":{"content":"he"},"done":false}`+"\n",
				`{"message":{"content":"llo"},"done":false}`+"\n"+`{"message":{"content":""},"done":true}`+"\n",
			)
			req := llm.Request{
				Config:   llm.GenerationConfig{Provider: llm.ProviderOllama, Model: "llama3"},
				Messages: []llm.Message{llm.NewText(llm.RoleUser, "hi")},
				Stream:   true,
			}
			var calls []string
			req.Handler = func(text string) { calls = append(calls, text) }

			res, err := generate.New(generate.WithHTTPClient(hc)).Generate(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(Equal("hello"))
			Expect(calls).To(Equal([]string{"he", "hello"}))
		})
	})

	Describe("GeminiAdapter", func() {
		adapter := generate.GeminiAdapter{}

		It("maps roles, system instructions and the streaming endpoint", func() {
			req := llm.Request{
				Config: llm.GenerationConfig{Provider: llm.ProviderGemini, Model: "models/gemini-2.0-flash", APIKey: "g-key"},
				Messages: []llm.Message{
					llm.NewText(llm.RoleSystem, "be brief"),
					llm.NewText(llm.RoleUser, "hi"),
					llm.NewText(llm.RoleAssistant, "hello"),
					llm.NewText(llm.RoleUser, "again"),
				},
				Stream: true,
			}

			httpReq, err := adapter.NewRequest(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(httpReq.URL.Path).To(HaveSuffix("/models/gemini-2.0-flash:streamGenerateContent"))
			Expect(httpReq.URL.Query().Get("alt")).To(Equal("sse"))
			Expect(httpReq.Header.Get("x-goog-api-key")).To(Equal("g-key"))
			Expect(httpReq.Header.Get("Authorization")).To(BeEmpty())

			body := decodeBody(httpReq)
			Expect(body).To(HaveKey("systemInstruction"))

			contents := body["contents"].([]any)
			Expect(contents).To(HaveLen(3))
			var roles []string
			for _, c := range contents {
				roles = append(roles, c.(map[string]any)["role"].(string))
			}
			Expect(roles).To(Equal([]string{"user", "model", "user"}))
		})

		It("decodes text and inline image parts", func() {
			res, err := adapter.DecodeResponse([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"a "},{"inlineData":{"mimeType":"image/png","data":"iVBORw0KGgo="}},{"text":"cat"}]},"finishReason":"STOP"}]}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(Equal("a cat"))
			Expect(res.Images).To(Equal([]llm.Image{llm.NewImage(pngURI)}))
		})

		It("reports blocked prompts and API errors", func() {
			res, err := adapter.DecodeResponse([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(Equal("prompt blocked: SAFETY"))

			res, err = adapter.DecodeResponse([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(Equal("API key not valid"))
		})

		It("streams SSE candidates through the client", func() {
			hc, seen := stubClient(200, "text/event-stream", sse(
				`{"candidates":[{"content":{"role":"model","parts":[{"text":"he"}]}}]}`,
				`{"candidates":[{"content":{"role":"model","parts":[{"text":"llo"}]},"finishReason":"STOP"}]}`,
			))
			req := llm.Request{
				Config:   llm.GenerationConfig{Provider: "google", Model: "gemini-2.0-flash"},
				Messages: []llm.Message{llm.NewText(llm.RoleUser, "hi")},
				Stream:   true,
			}
			var calls []string
			req.Handler = func(text string) { calls = append(calls, text) }

			res, err := generate.New(generate.WithHTTPClient(hc)).Generate(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(Equal("hello"))
			Expect(calls).To(Equal([]string{"he", "hello"}))
			Expect((*seen)[0].URL.Host).To(Equal("generativelanguage.googleapis.com"))
		})
	})
})
