// Package index embeds row documents and answers top-k similarity queries.
package index

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"ghgrag/internal/domain"
	"ghgrag/internal/embedding"
	"ghgrag/internal/log"
	"ghgrag/internal/vectorstore"
)

// DefaultK is the number of documents returned when callers pass k <= 0.
const DefaultK = vectorstore.DefaultTopK

// Index owns one generation of (document, vector) pairs.
type Index struct {
	embedder embedding.Embedder
	store    vectorstore.Storage
	logger   *log.Logger

	mu    sync.RWMutex
	built bool
	docs  []domain.Document
}

func New(embedder embedding.Embedder, store vectorstore.Storage, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.Nop()
	}
	return &Index{embedder: embedder, store: store, logger: logger.With("component", "index")}
}

// Build embeds every document and replaces the store contents. Any failure
// leaves the index uninitialised.
func (ix *Index) Build(ctx context.Context, docs []domain.Document) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.built = false
	ix.docs = nil

	if len(docs) == 0 {
		return domain.ErrNoDocuments
	}
	corpus := make([]string, len(docs))
	for i, d := range docs {
		corpus[i] = d.Content
	}
	if err := ix.embedder.Prepare(corpus); err != nil {
		return &domain.RetrievalError{Op: "prepare", Err: err}
	}
	vectors := make([][]float64, len(docs))
	for i, d := range docs {
		vec, err := ix.embedder.Embed(ctx, d.Content)
		if err != nil {
			return &domain.RetrievalError{Op: "embed", Err: fmt.Errorf("document %s: %w", d.ID, err)}
		}
		if i > 0 && len(vec) != len(vectors[0]) {
			return &domain.RetrievalError{Op: "embed", Err: fmt.Errorf("document %s: dimension %d, want %d", d.ID, len(vec), len(vectors[0]))}
		}
		vectors[i] = vec
	}
	if err := ix.store.Clear(ctx); err != nil {
		return &domain.RetrievalError{Op: "clear", Err: err}
	}
	if err := ix.store.Init(ctx, len(vectors[0])); err != nil {
		return &domain.RetrievalError{Op: "init", Err: err}
	}
	if err := ix.store.Upsert(ctx, docs, vectors); err != nil {
		return &domain.RetrievalError{Op: "upsert", Err: err}
	}
	ix.docs = append([]domain.Document(nil), docs...)
	ix.built = true
	ix.logger.Info("index built", "documents", len(docs), "dimension", len(vectors[0]), "embedder", ix.embedder.Name())
	return nil
}

// Ready reports whether the last Build succeeded.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.built
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Search returns at most k documents nearest to query. When the query shares
// no vocabulary with the corpus it falls back to token-overlap ranking.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = DefaultK
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.built {
		return nil, domain.ErrNotInitialized
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &domain.RetrievalError{Op: "embed query", Err: err}
	}
	if isZero(vec) {
		return ix.lexicalSearch(query, k), nil
	}
	res, err := ix.store.Search(ctx, vec, k)
	if err != nil {
		return nil, &domain.RetrievalError{Op: "search", Err: err}
	}
	allZero := true
	for _, r := range res {
		if r.Score > 1e-9 {
			allZero = false
			break
		}
	}
	if allZero {
		return ix.lexicalSearch(query, k), nil
	}
	return res, nil
}

// Close releases the backing store.
func (ix *Index) Close() error {
	if ix.store == nil {
		return nil
	}
	return ix.store.Close()
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’.][\p{L}\p{N}]+)*`)

func (ix *Index) lexicalSearch(query string, k int) []domain.SearchResult {
	qset := toTokenSet(query)
	results := make([]domain.SearchResult, len(ix.docs))
	for i, d := range ix.docs {
		results[i] = domain.SearchResult{Document: d, Score: overlapOchiai(qset, d.Content), Position: i}
	}
	return vectorstore.Rank(results, k)
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai is |A∩B| / sqrt(|A||B|) over distinct tokens.
func overlapOchiai(qset map[string]struct{}, text string) float64 {
	seen := toTokenSet(text)
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	inter := 0
	for t := range seen {
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(seen)))
}
