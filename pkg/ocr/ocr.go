// Package ocr extracts text from images by asking a vision-capable model.
package ocr

import (
	"context"
	"fmt"
	"io"

	"github.com/papercomputeco/quill/pkg/llm"
)

// DefaultInstruction is sent ahead of the image.
const DefaultInstruction = "Extract all text from this image. Reply with the extracted text only, preserving line breaks, with no commentary."

// DefaultQuality is the JPEG quality used for downscaled images.
const DefaultQuality = 85

// maxFileSize bounds the file read into memory.
const maxFileSize = 20 << 20

// Generator is the generation call Extract depends on. *generate.Client
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// Result is the outcome of one extraction. Exactly one of Text and Error
// is meaningful.
type Result struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

type options struct {
	instruction string
	maxWidth    int
	quality     int
}

// Option configures Extract.
type Option func(*options)

// WithInstruction replaces DefaultInstruction.
func WithInstruction(text string) Option {
	return func(o *options) {
		if text != "" {
			o.instruction = text
		}
	}
}

// WithMaxWidth downscales images wider than px before upload.
func WithMaxWidth(px int) Option {
	return func(o *options) {
		o.maxWidth = px
	}
}

// WithQuality sets the JPEG quality used when downscaling.
func WithQuality(q int) Option {
	return func(o *options) {
		if q > 0 && q <= 100 {
			o.quality = q
		}
	}
}

// Extract sends file to the model configured by cfg and returns the text it
// reads. Provider errors are reported in Result.Error. Transport errors are
// reported there too, and also returned.
func Extract(ctx context.Context, gen Generator, cfg llm.GenerationConfig, file io.Reader, opts ...Option) (*Result, error) {
	o := options{instruction: DefaultInstruction, quality: DefaultQuality}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := io.ReadAll(io.LimitReader(file, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", llm.ErrInvalidRequest)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", llm.ErrInvalidRequest, maxFileSize)
	}

	uri, err := EncodeDataURI(data, o.maxWidth, o.quality)
	if err != nil {
		return nil, err
	}

	res, err := gen.Generate(ctx, llm.Request{
		Config: cfg,
		Messages: []llm.Message{
			llm.NewParts(llm.RoleUser,
				llm.TextPart(o.instruction),
				llm.ImagePart(uri),
			),
		},
		Temperature: llm.Float64(0),
	})
	if err != nil {
		return &Result{Error: err.Error()}, err
	}
	if res.Failed() {
		return &Result{Error: res.Error}, nil
	}
	return &Result{Text: res.Content}, nil
}
