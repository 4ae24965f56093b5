package search

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"google.golang.org/genai"
)

// #region genai

// GenAIEmbedder embeds text with a Gemini embedding model.
type GenAIEmbedder struct {
	cli   *genai.Client
	model string
}

// NewGenAIEmbedder builds an embedder. An empty model selects gemini-embedding-001.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if model == "" {
		model = "gemini-embedding-001"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIEmbedder{cli: cli, model: model}, nil
}

// Embed returns the query embedding for text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.cli.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: "RETRIEVAL_QUERY"})
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, errors.New("genai embed: no embeddings returned")
	}
	return res.Embeddings[0].Values, nil
}

// #endregion genai

// #region cache

// CachedEmbedder memoizes query embeddings for a bounded time. Artifact
// retrieval itself is never cached.
type CachedEmbedder struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

// NewCachedEmbedder wraps next with an LRU of size entries that expire after ttl.
func NewCachedEmbedder(next Embedder, size int, ttl time.Duration) *CachedEmbedder {
	if size <= 0 {
		size = 256
	}
	return &CachedEmbedder{next: next, cache: expirable.NewLRU[string, []float32](size, nil, ttl)}
}

// Embed returns a cached vector or computes and stores one. Errors are not cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

// Len reports how many vectors are cached.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

// #endregion cache

// #region hashing

// HashEmbedder is a deterministic offline embedder: lowercase non-stopword
// tokens hashed into a fixed number of buckets, L2-normalized. It needs no
// network and is used with the fake completion provider and in tests.
type HashEmbedder struct {
	Dims int
}

// Embed hashes the tokens of text into a vector.
func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = 64
	}
	v := make([]float32, dims)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		v[f.Sum32()%uint32(dims)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return v, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

// stopwords are excluded from hashing and topic matching.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"not": true, "no": true, "and": true, "or": true, "but": true, "if": true,
	"so": true, "as": true, "at": true, "by": true, "for": true, "from": true,
	"in": true, "into": true, "of": true, "on": true, "to": true, "with": true,
	"about": true, "it": true, "its": true, "this": true, "that": true,
	"what": true, "which": true, "who": true, "how": true, "when": true,
	"where": true, "why": true, "you": true, "me": true, "i": true, "my": true,
	"your": true, "we": true, "they": true, "he": true, "she": true, "her": true,
	"him": true, "us": true, "them": true, "am": true, "im": true, "just": true,
}

// Tokenize splits text into unique lowercase non-stopword tokens in order.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		w = strings.ReplaceAll(w, "'", "")
		if len(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// #endregion hashing
