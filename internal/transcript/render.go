package transcript

import (
	"context"

	"github.com/hpungsan/cardvault/internal/rewrite"
)

// RenderRecords returns copies of records with CleanText and RenderParts
// filled in by the pool. Records with no message text are passed through.
func RenderRecords(ctx context.Context, pool *rewrite.Pool, pl *rewrite.Pipeline, records []Record) ([]Record, error) {
	texts := make([]string, 0, len(records))
	idx := make([]int, 0, len(records))
	for i, r := range records {
		if r.Mes == "" {
			continue
		}
		texts = append(texts, r.Mes)
		idx = append(idx, i)
	}

	rendered, err := pool.Render(ctx, texts, pl)
	if err != nil {
		return nil, err
	}

	out := make([]Record, len(records))
	copy(out, records)
	for j, i := range idx {
		out[i].CleanText = rendered[j].CleanText
		out[i].RenderParts = rendered[j].Units
	}
	return out, nil
}
