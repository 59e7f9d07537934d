package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/nfnt/resize"

	"github.com/papercomputeco/quill/pkg/llm"
)

// EncodeDataURI turns raw file bytes into a data URI. Raster images wider
// than maxWidth are downscaled, keeping the aspect ratio, and re-encoded as
// JPEG at the given quality. Other content is passed through as is.
func EncodeDataURI(data []byte, maxWidth, quality int) (string, error) {
	mimeType := http.DetectContentType(data)
	if maxWidth <= 0 || !isRaster(mimeType) {
		return llm.DataURI(mimeType, data), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxWidth {
		return llm.DataURI(mimeType, data), nil
	}

	aspectRatio := float64(bounds.Dy()) / float64(bounds.Dx())
	newHeight := uint(float64(maxWidth) * aspectRatio)
	resized := resize.Resize(uint(maxWidth), newHeight, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode resized image: %w", err)
	}
	return llm.DataURI("image/jpeg", buf.Bytes()), nil
}

func isRaster(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}
