package rewrite

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool sizing constants.
const (
	MinPoolSize = 1
	MaxPoolSize = 8

	// cpuDivisor leaves headroom for the transports and the reader.
	cpuDivisor = 2
)

// ResolvePoolSize returns workers when positive, otherwise half of
// GOMAXPROCS clamped to [MinPoolSize, MaxPoolSize].
func ResolvePoolSize(workers int) int {
	if workers > 0 {
		return workers
	}
	n := runtime.GOMAXPROCS(0) / cpuDivisor
	if n < MinPoolSize {
		return MinPoolSize
	}
	if n > MaxPoolSize {
		return MaxPoolSize
	}
	return n
}

// Rendered is the rewrite output for one input text.
type Rendered struct {
	CleanText string       `json:"clean_text"`
	Units     []RenderUnit `json:"render_parts"`
}

// Pool runs Render over many texts with bounded parallelism.
type Pool struct {
	workers int
	render  func(string, *Pipeline) (string, []RenderUnit)
}

// NewPool creates a pool. workers <= 0 picks a size from GOMAXPROCS.
func NewPool(workers int) *Pool {
	return &Pool{workers: ResolvePoolSize(workers), render: Render}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.workers }

// Render rewrites every text with pl. Job i writes only result slot i, so the
// output order is the input order whatever order jobs finish in.
func (p *Pool) Render(ctx context.Context, texts []string, pl *Pipeline) ([]Rendered, error) {
	out := make([]Rendered, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			clean, units := p.render(text, pl)
			out[i] = Rendered{CleanText: clean, Units: units}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
