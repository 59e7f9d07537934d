package generate_test

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quill/pkg/generate"
	"github.com/papercomputeco/quill/pkg/llm"
)

var _ = Describe("GenerateAll", func() {
	It("returns outcomes in input order and bounds concurrency", func() {
		var active, peak atomic.Int32
		hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			body := readAll(r.Body)
			reply := `{"choices":[{"message":{"content":"first"}}]}`
			switch {
			case strings.Contains(body, "second"):
				reply = `{"choices":[{"message":{"content":"second"}}]}`
			case strings.Contains(body, "broken"):
				reply = `{"error":{"message":"bad prompt"}}`
			}
			return &http.Response{
				StatusCode: 200,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       &chunkedBody{chunks: []string{reply}},
				Request:    r,
			}, nil
		})}

		reqs := []llm.Request{
			userRequest(llm.ProviderOpenAI, false, "first"),
			userRequest(llm.ProviderOpenAI, false, "second"),
			userRequest(llm.ProviderOpenAI, false, "broken"),
			userRequest("nope", false, "x"),
		}

		outcomes := generate.New(generate.WithHTTPClient(hc)).GenerateAll(context.Background(), reqs, 2)
		Expect(outcomes).To(HaveLen(4))
		Expect(outcomes[0].Result.Content).To(Equal("first"))
		Expect(outcomes[1].Result.Content).To(Equal("second"))
		Expect(outcomes[2].Result.Error).To(Equal("bad prompt"))
		Expect(outcomes[3].Err).To(MatchError(llm.ErrUnknownProvider))
		Expect(peak.Load()).To(BeNumerically("<=", 2))
	})
})
