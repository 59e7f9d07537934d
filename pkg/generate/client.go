// Package generate implements the multi-provider generation client. One
// Client serves every provider: it resolves an Adapter from the request's
// GenerationConfig, issues the HTTP call, and normalizes streaming and
// non-streaming responses into a single llm.Result.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/quill/pkg/llm"
)

// maxBodySize bounds non-streaming and error bodies read into memory.
const maxBodySize = 32 << 20

// Client issues generation requests against upstream providers. It holds no
// per-call state and may be shared between goroutines.
type Client struct {
	httpClient *http.Client
	adapters   map[llm.Provider]Adapter
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAdapter registers or replaces the adapter for a provider.
func WithAdapter(p llm.Provider, a Adapter) Option {
	return func(c *Client) {
		c.adapters[p] = a
	}
}

// New creates a Client with the built-in adapters.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			// LLM requests can be slow, especially long streamed generations
			Timeout: 5 * time.Minute,
		},
		adapters: DefaultAdapters(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate runs req to completion and returns the normalized result.
//
// For streaming requests, req.Handler (when set) is invoked synchronously
// with the accumulated text after every fragment. The error is non-nil only
// for transport failures (*llm.TransportError), cancellation
// (*llm.CancelledError) and invalid requests; provider-reported errors are
// returned in Result.Error.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	for s.Next() {
		if req.Handler != nil {
			req.Handler(s.Snapshot().Text)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return s.Result(), nil
}

// Stream issues req and returns an iterator over its text snapshots. The
// caller must drain or Close the stream. Non-streaming requests yield no
// snapshots; their result is available from Result once Next returns false.
func (c *Client) Stream(ctx context.Context, req llm.Request) (*Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	provider, adapter, err := c.resolve(req.Config.Provider)
	if err != nil {
		return nil, err
	}

	httpReq, err := adapter.NewRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", provider, err)
	}
	target := httpReq.URL.Redacted()

	c.logger.Debug("sending generation request",
		zap.String("provider", string(provider)),
		zap.String("model", req.Config.Model),
		zap.String("url", target),
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("stream", req.Stream),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &llm.CancelledError{Err: ctxErr}
		}
		return nil, &llm.TransportError{URL: target, Err: err}
	}

	s := &Stream{
		ctx:     ctx,
		adapter: adapter,
		logger:  c.logger.With(zap.String("provider", string(provider))),
		url:     target,
		status:  resp.StatusCode,
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := readBody(ctx, resp)
		if readErr != nil {
			return nil, readErr
		}
		msg, ok := adapter.DecodeError(body)
		if !ok {
			return nil, &llm.TransportError{
				URL:        target,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(body), 512),
			}
		}
		c.logger.Debug("provider returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("error", msg),
		)
		s.finishWithError(msg)
		s.done = !req.Stream
		return s, nil
	}

	if !req.Stream || isJSONBody(resp.Header.Get("Content-Type")) {
		body, readErr := readBody(ctx, resp)
		if readErr != nil {
			return nil, readErr
		}
		result, decodeErr := adapter.DecodeResponse(body)
		if decodeErr != nil {
			return nil, &llm.TransportError{
				URL:        target,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(body), 512),
				Err:        decodeErr,
			}
		}
		s.result = result
		s.finished = true
		s.done = !req.Stream
		return s, nil
	}

	s.body = resp.Body
	s.buf = make([]byte, 4096)
	return s, nil
}

func (c *Client) resolve(name llm.Provider) (llm.Provider, Adapter, error) {
	provider, ok := llm.ParseProvider(string(name))
	if !ok {
		// Custom adapters may be registered under names ParseProvider does not know.
		provider = name
	}
	adapter, ok := c.adapters[provider]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", llm.ErrUnknownProvider, name)
	}
	return provider, adapter, nil
}

func readBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &llm.CancelledError{Err: ctxErr}
		}
		return nil, &llm.TransportError{
			URL:        resp.Request.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("read response: %w", err),
		}
	}
	return body, nil
}

// isJSONBody reports whether a streaming request came back as a single JSON
// document instead of SSE or NDJSON framing.
func isJSONBody(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// IsTransportError reports whether err is an *llm.TransportError.
func IsTransportError(err error) bool {
	var te *llm.TransportError
	return errors.As(err, &te)
}

// IsCancelled reports whether err is an *llm.CancelledError.
func IsCancelled(err error) bool {
	var ce *llm.CancelledError
	return errors.As(err, &ce)
}
