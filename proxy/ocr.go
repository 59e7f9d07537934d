package proxy

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/quill/pkg/llm"
	"github.com/papercomputeco/quill/pkg/ocr"
)

// handleOCR extracts text from the uploaded multipart "file". Optional
// "provider" and "model" form values override the server defaults.
func (p *Proxy) handleOCR(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "multipart field \"file\" is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := llm.GenerationConfig{
		Provider: llm.Provider(c.FormValue("provider")),
		Model:    c.FormValue("model"),
	}.WithDefaults(p.config.Generation.Defaults())

	ctx, cancel := context.WithTimeout(context.Background(), p.generationTimeout())
	defer cancel()

	res, err := ocr.Extract(ctx, p.client, cfg, f,
		ocr.WithInstruction(p.config.OCR.Instruction),
		ocr.WithMaxWidth(p.config.OCR.MaxWidth),
		ocr.WithQuality(p.config.OCR.Quality),
	)
	if err != nil {
		p.logger.Warn("ocr failed",
			zap.String("filename", fh.Filename),
			zap.Int64("size", fh.Size),
			zap.Error(err),
		)
		if res == nil {
			if errors.Is(err, llm.ErrInvalidRequest) {
				return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
			}
			return err
		}
		return c.Status(statusFor(err)).JSON(res)
	}
	return c.JSON(res)
}
