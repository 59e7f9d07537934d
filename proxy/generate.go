package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/quill/pkg/archive"
	"github.com/papercomputeco/quill/pkg/events"
	"github.com/papercomputeco/quill/pkg/generate"
	"github.com/papercomputeco/quill/pkg/llm"
	"github.com/papercomputeco/quill/pkg/store"
)

// IdempotencyHeader carries the caller's token for double-submit protection.
const IdempotencyHeader = "Idempotency-Key"

// generateRequest is the body of POST /api/generate. Config fields left
// empty are filled from the server's generation defaults.
type generateRequest struct {
	Config         llm.GenerationConfig `json:"config"`
	Messages       []llm.Message        `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	Stream         bool                 `json:"stream,omitempty"`
	ResponseFormat *llm.ResponseFormat  `json:"response_format,omitempty"`
}

// StreamLine is one NDJSON line of a streamed generation. Snapshot lines
// carry the accumulated content; the last line has Done set and carries
// the final result.
type StreamLine struct {
	Content string      `json:"content"`
	Error   string      `json:"error,omitempty"`
	Images  []llm.Image `json:"images,omitempty"`
	Done    bool        `json:"done,omitempty"`
}

type batchRequest struct {
	Requests []generateRequest `json:"requests"`
}

type batchItem struct {
	*llm.Result
	TransportError string `json:"transport_error,omitempty"`
}

func (p *Proxy) buildRequest(body generateRequest) llm.Request {
	req := llm.Request{
		Config:         body.Config.WithDefaults(p.config.Generation.Defaults()),
		Messages:       body.Messages,
		Temperature:    body.Temperature,
		Stream:         body.Stream,
		ResponseFormat: body.ResponseFormat,
	}
	if req.Temperature == nil {
		req.Temperature = p.config.Generation.Temperature
	}
	return req
}

func (p *Proxy) generationTimeout() time.Duration {
	if d := p.config.Generation.Timeout.Duration; d > 0 {
		return d
	}
	return 5 * time.Minute
}

// handleGenerate runs one generation. Streaming requests are answered with
// NDJSON snapshot lines; the final line is the result with done set.
func (p *Proxy) handleGenerate(c *fiber.Ctx) error {
	startTime := time.Now()

	var body generateRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		p.logger.Debug("failed to parse generate request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	req := p.buildRequest(body)
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	release, err := p.inflight.Acquire(c.Get(IdempotencyHeader))
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	id := uuid.NewString()
	p.logger.Debug("received generate request",
		zap.String("id", id),
		zap.String("provider", string(req.Config.Provider)),
		zap.String("model", req.Config.Model),
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("stream", req.Stream),
	)
	p.bus.Publish(events.TopicGenerationStarted, map[string]any{
		"id":       id,
		"provider": req.Config.Provider,
		"model":    req.Config.Model,
		"stream":   req.Stream,
	})

	ctx, cancel := context.WithTimeout(context.Background(), p.generationTimeout())

	if !req.Stream {
		defer release()
		defer cancel()

		res, err := p.client.Generate(ctx, req)
		if err != nil {
			p.generationFailed(id, err)
			return c.Status(statusFor(err)).JSON(llm.ErrorResponse{Error: err.Error()})
		}
		p.generationDone(ctx, id, req, res, startTime)
		return c.JSON(res)
	}

	s, err := p.client.Stream(ctx, req)
	if err != nil {
		cancel()
		release()
		p.generationFailed(id, err)
		return c.Status(statusFor(err)).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	c.Set("Content-Type", "application/x-ndjson")
	c.Set("Cache-Control", "no-cache")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer release()
		defer cancel()
		defer s.Close()

		enc := json.NewEncoder(w)
		for s.Next() {
			err := enc.Encode(StreamLine{Content: s.Snapshot().Text})
			if err == nil {
				err = w.Flush()
			}
			if err != nil {
				// client went away
				p.logger.Debug("stream client disconnected", zap.String("id", id), zap.Error(err))
				cancel()
				s.Close()
				p.generationFailed(id, err)
				return
			}
		}

		final := StreamLine{Done: true}
		if err := s.Err(); err != nil {
			p.generationFailed(id, err)
			final.Error = err.Error()
		} else {
			res := s.Result()
			p.generationDone(ctx, id, req, res, startTime)
			final.Content = res.Content
			final.Error = res.Error
			final.Images = res.Images
		}
		if err := enc.Encode(final); err != nil {
			p.logger.Debug("failed to write final stream line", zap.String("id", id), zap.Error(err))
			return
		}
		if err := w.Flush(); err != nil {
			p.logger.Debug("stream client disconnected", zap.String("id", id), zap.Error(err))
		}
	}))

	return nil
}

// handleGenerateBatch runs several non-streaming generations concurrently,
// bounded by the configured concurrency, and returns results in order.
// Each item goes through the same archiving and events as /api/generate.
// Caller errors land in the item's error; transport failures and
// cancellations land in transport_error.
func (p *Proxy) handleGenerateBatch(c *fiber.Ctx) error {
	startTime := time.Now()

	var body batchRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil || len(body.Requests) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	reqs := make([]llm.Request, len(body.Requests))
	ids := make([]string, len(body.Requests))
	for i, r := range body.Requests {
		r.Stream = false
		reqs[i] = p.buildRequest(r)
		ids[i] = uuid.NewString()
		p.bus.Publish(events.TopicGenerationStarted, map[string]any{
			"id":       ids[i],
			"provider": reqs[i].Config.Provider,
			"model":    reqs[i].Config.Model,
			"stream":   false,
			"batch":    true,
		})
	}
	p.logger.Debug("received batch request", zap.Int("requests", len(reqs)))

	ctx, cancel := context.WithTimeout(context.Background(), p.generationTimeout())
	defer cancel()

	outcomes := p.client.GenerateAll(ctx, reqs, p.config.Generation.Concurrency)
	items := make([]batchItem, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			p.generationFailed(ids[i], o.Err)
			items[i] = batchItemFor(o.Err)
			continue
		}
		p.generationDone(ctx, ids[i], reqs[i], o.Result, startTime)
		items[i] = batchItem{Result: o.Result}
	}
	return c.JSON(map[string]any{"results": items})
}

// batchItemFor places err where /api/generate would report it: caller
// errors (400) in error, everything else in transport_error.
func batchItemFor(err error) batchItem {
	if statusFor(err) == fiber.StatusBadRequest {
		return batchItem{Result: &llm.Result{Error: err.Error()}}
	}
	return batchItem{Result: &llm.Result{}, TransportError: err.Error()}
}

func (p *Proxy) generationFailed(id string, err error) {
	p.logger.Warn("generation failed", zap.String("id", id), zap.Error(err))
	p.bus.Publish(events.TopicGenerationFailed, map[string]any{
		"id":    id,
		"error": err.Error(),
	})
}

// generationDone archives result images, records them in the image history
// and publishes the completion. res.Images is rewritten in place.
func (p *Proxy) generationDone(ctx context.Context, id string, req llm.Request, res *llm.Result, startTime time.Time) {
	if len(res.Images) > 0 {
		p.recordImages(ctx, req, res)
	}

	p.logger.Debug("generation complete",
		zap.String("id", id),
		zap.String("content_preview", truncate(res.Content, 100)),
		zap.String("error", res.Error),
		zap.Int("images", len(res.Images)),
		zap.Duration("duration", time.Since(startTime)),
	)

	topic := events.TopicGenerationCompleted
	data := map[string]any{
		"id":             id,
		"content_length": len(res.Content),
		"images":         len(res.Images),
	}
	if res.Failed() {
		topic = events.TopicGenerationFailed
		data["error"] = res.Error
	}
	p.bus.Publish(topic, data)
}

func (p *Proxy) recordImages(ctx context.Context, req llm.Request, res *llm.Result) {
	archived, err := archive.ArchiveAll(ctx, p.archiver, res.Images)
	if err != nil {
		// Continue - keep the inline images rather than fail the request
		p.logger.Error("failed to archive images", zap.Error(err))
	} else {
		res.Images = archived
	}

	prompt := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			prompt = req.Messages[i].PlainText()
			break
		}
	}

	now := time.Now().UTC()
	records := make([]store.ImageRecord, len(res.Images))
	for i, img := range res.Images {
		records[i] = store.NewImageRecord(img.ImageURL.URL, prompt)
		records[i].Model = req.Config.Model
		records[i].CreatedAt = now
	}
	added, err := store.AppendEntries(ctx, p.store, store.KeyImageHistory, records...)
	if err != nil {
		p.logger.Error("failed to record image history", zap.Error(err))
		return
	}
	p.logger.Debug("recorded image history", zap.Int("added", added))
}

// statusFor maps generation errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, llm.ErrInvalidRequest), errors.Is(err, llm.ErrUnknownProvider):
		return fiber.StatusBadRequest
	case generate.IsCancelled(err):
		return fiber.StatusGatewayTimeout
	case generate.IsTransportError(err):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
