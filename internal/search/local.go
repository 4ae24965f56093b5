package search

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// Local scores every embedded artifact in scope against the query vector.
type Local struct {
	db       *store.DB
	embedder Embedder
}

// NewLocal builds a brute-force searcher over the storage collaborator.
func NewLocal(db *store.DB, embedder Embedder) *Local {
	return &Local{db: db, embedder: embedder}
}

// SearchSimilar embeds q.Text and ranks in-scope artifacts by cosine similarity.
func (l *Local) SearchSimilar(ctx context.Context, q Query) ([]Hit, error) {
	q = q.withDefaults()
	qv, err := l.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	rows, err := l.db.ListArtifacts(ctx, store.ArtifactFilter{
		UserID:        q.UserID,
		Types:         q.Types,
		Status:        q.Status,
		Visibility:    q.Visibility,
		From:          q.From,
		To:            q.To,
		WithEmbedding: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list embedded artifacts: %w", err)
	}

	query := toFloat64(qv)
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{Artifact: r, Score: Cosine(query, toFloat64(r.Vector()))})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	hits = consistent(hits)
	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	denom := floats.Norm(a, 2) * floats.Norm(b, 2)
	if denom == 0 {
		return 0
	}
	return floats.Dot(a, b) / denom
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
