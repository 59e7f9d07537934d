package generate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/quill/pkg/llm"
)

// Outcome is the result of one request in a batch.
type Outcome struct {
	Result *llm.Result
	Err    error
}

// GenerateAll runs reqs concurrently, at most limit at a time (no limit when
// limit <= 0), and returns their outcomes in input order. A failing request
// does not cancel the others; cancel ctx to stop the whole batch.
func (c *Client) GenerateAll(ctx context.Context, reqs []llm.Request, limit int) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			res, err := c.Generate(ctx, req)
			outcomes[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
