// Package search is the similarity-search collaborator: find a user's
// artifacts nearest to a query by embedding. It ships a local brute-force
// searcher over stored embeddings and a gRPC client for a remote service.
package search

import (
	"context"
	"time"

	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// #region interfaces

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher returns the artifacts nearest to a query.
type Searcher interface {
	SearchSimilar(ctx context.Context, q Query) ([]Hit, error)
}

// #endregion interfaces

// #region types

// Query restricts a similarity search to one user's artifacts.
type Query struct {
	Text       string
	UserID     string
	Types      []string
	Visibility string // defaults to private
	Status     string // defaults to active
	From, To   time.Time
	TopK       int
}

// Hit is one search result.
type Hit struct {
	Artifact store.UserArtifact
	Score    float64
}

// DefaultTopK is used when Query.TopK is unset.
const DefaultTopK = 8

func (q Query) withDefaults() Query {
	if q.Visibility == "" {
		q.Visibility = store.VisibilityPriv
	}
	if q.Status == "" {
		q.Status = store.StatusActive
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	return q
}

// #endregion types

// #region consistency

// consistent drops hits with neither body nor verse ref, and duplicate ids,
// keeping order. A bare verse highlight has no body but is still a hit.
func consistent(hits []Hit) []Hit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if (h.Artifact.Body == "" && h.Artifact.VerseRef == "") || seen[h.Artifact.ID] {
			continue
		}
		seen[h.Artifact.ID] = true
		out = append(out, h)
	}
	return out
}

// #endregion consistency
