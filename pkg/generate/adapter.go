package generate

import (
	"context"
	"net/http"
	"strings"

	"github.com/papercomputeco/quill/pkg/llm"
)

// Chunk is the normalized content of one streamed payload.
type Chunk struct {
	Text   string
	Images []llm.Image

	// Error is set when the provider reported an error mid-stream.
	Error string

	// Done is set when the payload itself marks the end of the stream.
	Done bool
}

// Adapter encapsulates one provider's request shape, auth, and response
// decoding. Adapters are stateless and safe for concurrent use.
type Adapter interface {
	// NewRequest builds the upstream HTTP request for req.
	NewRequest(ctx context.Context, req llm.Request) (*http.Request, error)

	// DecodeResponse decodes a complete non-streaming response body.
	// Provider-reported errors are returned in Result.Error.
	DecodeResponse(body []byte) (*llm.Result, error)

	// DecodeChunk decodes a single streamed payload with any framing
	// prefix already removed.
	DecodeChunk(payload []byte) (Chunk, error)

	// DecodeError extracts a provider error message from a response body.
	DecodeError(body []byte) (string, bool)
}

// DefaultAdapters returns the built-in adapter table.
func DefaultAdapters() map[llm.Provider]Adapter {
	return map[llm.Provider]Adapter{
		llm.ProviderOpenAI: OpenAIAdapter{},
		llm.ProviderOllama: OllamaAdapter{},
		llm.ProviderGemini: GeminiAdapter{},
	}
}

func endpoint(base, fallback, suffix string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/") + suffix
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
