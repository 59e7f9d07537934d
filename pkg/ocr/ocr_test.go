package ocr_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quill/pkg/generate"
	"github.com/papercomputeco/quill/pkg/llm"
	"github.com/papercomputeco/quill/pkg/ocr"
)

type recordingGenerator struct {
	requests []llm.Request
	result   *llm.Result
	err      error
}

func (g *recordingGenerator) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	g.requests = append(g.requests, req)
	return g.result, g.err
}

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Extract", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("sends the instruction first and the image second, non-streaming at temperature 0", func() {
		gen := &recordingGenerator{result: &llm.Result{Content: "INVOICE 42"}}
		cfg := llm.GenerationConfig{Provider: llm.ProviderOpenAI, Model: "gpt-4o"}

		res, err := ocr.Extract(ctx, gen, cfg, bytes.NewReader(pngBytes(4, 4)))
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(&ocr.Result{Text: "INVOICE 42"}))

		Expect(gen.requests).To(HaveLen(1))
		req := gen.requests[0]
		Expect(req.Config).To(Equal(cfg))
		Expect(req.Stream).To(BeFalse())
		Expect(req.ResolvedTemperature()).To(BeZero())
		Expect(req.Messages).To(HaveLen(1))

		parts := req.Messages[0].Parts
		Expect(parts).To(HaveLen(2))
		Expect(parts[0]).To(Equal(llm.TextPart(ocr.DefaultInstruction)))
		Expect(parts[1].Type).To(Equal(llm.PartImageURL))
		Expect(parts[1].ImageURL.URL).To(HavePrefix("data:image/png;base64,"))
	})

	It("surfaces provider errors in Result.Error", func() {
		gen := &recordingGenerator{result: &llm.Result{Error: "model does not support images"}}

		res, err := ocr.Extract(ctx, gen, llm.GenerationConfig{}, bytes.NewReader(pngBytes(2, 2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Text).To(BeEmpty())
		Expect(res.Error).To(Equal("model does not support images"))
	})

	It("surfaces transport errors in Result.Error and as the error", func() {
		transportErr := &llm.TransportError{URL: "http://x", Err: context.DeadlineExceeded}
		gen := &recordingGenerator{err: transportErr}

		res, err := ocr.Extract(ctx, gen, llm.GenerationConfig{}, bytes.NewReader(pngBytes(2, 2)))
		Expect(err).To(MatchError(transportErr))
		Expect(res.Error).To(ContainSubstring("transport failure"))
	})

	It("applies a custom instruction", func() {
		gen := &recordingGenerator{result: &llm.Result{}}

		_, err := ocr.Extract(ctx, gen, llm.GenerationConfig{}, bytes.NewReader(pngBytes(2, 2)), ocr.WithInstruction("Read the receipt total."))
		Expect(err).NotTo(HaveOccurred())
		Expect(gen.requests[0].Messages[0].Parts[0].Text).To(Equal("Read the receipt total."))
	})

	It("rejects an empty file", func() {
		_, err := ocr.Extract(ctx, &recordingGenerator{}, llm.GenerationConfig{}, strings.NewReader(""))
		Expect(err).To(MatchError(llm.ErrInvalidRequest))
	})

	It("works end to end against an OpenAI-compatible server", func() {
		var body map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices":[{"message":{"content":"hello from the image"}}]}`))
		}))
		defer srv.Close()

		cfg := llm.GenerationConfig{Provider: llm.ProviderOpenAI, APIURL: srv.URL, Model: "vision"}
		res, err := ocr.Extract(ctx, generate.New(), cfg, bytes.NewReader(pngBytes(2, 2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Text).To(Equal("hello from the image"))

		content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
		Expect(content[0]).To(HaveKeyWithValue("type", "text"))
		Expect(content[1]).To(HaveKeyWithValue("type", "image_url"))
		Expect(body["stream"]).To(BeFalse())
		Expect(body["temperature"]).To(BeNumerically("==", 0))
	})
})

var _ = Describe("EncodeDataURI", func() {
	It("keeps small images as they are", func() {
		data := pngBytes(10, 5)
		uri, err := ocr.EncodeDataURI(data, 100, 85)
		Expect(err).NotTo(HaveOccurred())
		Expect(uri).To(Equal(llm.DataURI("image/png", data)))
	})

	It("downscales wide images to JPEG keeping the aspect ratio", func() {
		uri, err := ocr.EncodeDataURI(pngBytes(200, 100), 50, 85)
		Expect(err).NotTo(HaveOccurred())
		Expect(uri).To(HavePrefix("data:image/jpeg;base64,"))

		_, data, err := llm.ParseDataURI(uri)
		Expect(err).NotTo(HaveOccurred())
		img, err := jpeg.Decode(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(50))
		Expect(img.Bounds().Dy()).To(Equal(25))
	})

	It("passes non-image files through", func() {
		uri, err := ocr.EncodeDataURI([]byte("%PDF-1.4 ..."), 50, 85)
		Expect(err).NotTo(HaveOccurred())
		Expect(uri).To(HavePrefix("data:application/pdf;base64,"))
	})
})
