// Package session owns the currently loaded dataset and its retrieval index,
// and swaps both atomically when a new file is uploaded.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"ghgrag/internal/answer"
	"ghgrag/internal/config"
	"ghgrag/internal/domain"
	"ghgrag/internal/embedding"
	"ghgrag/internal/embedding/openai"
	"ghgrag/internal/embedding/tfidf"
	"ghgrag/internal/encoder"
	"ghgrag/internal/index"
	"ghgrag/internal/llm/watsonx"
	"ghgrag/internal/log"
	"ghgrag/internal/tabular"
	"ghgrag/internal/vectorstore"
	"ghgrag/internal/vectorstore/memory"
	"ghgrag/internal/vectorstore/qdrant"
	"ghgrag/internal/vectorstore/sqlite"
)

// Dataset describes the loaded file.
type Dataset struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Records  int       `json:"records"`
	LoadedAt time.Time `json:"loaded_at"`
}

type snapshot struct {
	dataset  Dataset
	table    *tabular.Table
	index    *index.Index
	pipeline *answer.Pipeline
}

// Session is safe for concurrent use. Readers see either the previous or the
// new snapshot, never a mix.
type Session struct {
	cfg       *config.AppConfig
	logger    *log.Logger
	generator answer.Generator

	newEmbedder func() (embedding.Embedder, error)
	newStore    func() (vectorstore.Storage, error)

	// serialises uploads so two builds never share a store
	upload sync.Mutex

	mu  sync.RWMutex
	cur *snapshot
}

type Option func(*Session)

// WithGenerator overrides the hosted model built from credentials.
func WithGenerator(g answer.Generator) Option {
	return func(s *Session) { s.generator = g }
}

func WithEmbedderFactory(f func() (embedding.Embedder, error)) Option {
	return func(s *Session) { s.newEmbedder = f }
}

func WithStoreFactory(f func() (vectorstore.Storage, error)) Option {
	return func(s *Session) { s.newStore = f }
}

// New builds a session from configuration. A hosted generator is created only
// when all three credentials are present.
func New(cfg *config.AppConfig, creds config.Credentials, logger *log.Logger, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Session{cfg: cfg, logger: logger.With("component", "session")}
	s.newEmbedder = func() (embedding.Embedder, error) { return NewEmbedder(cfg.Embedder) }
	s.newStore = func() (vectorstore.Storage, error) { return NewStore(cfg.VectorStore) }
	if creds.Available() {
		h := cfg.HostedModel
		g, err := watsonx.NewClient(watsonx.Config{
			APIKey:       creds.APIKey,
			CloudURL:     creds.CloudURL,
			ProjectID:    creds.ProjectID,
			ModelID:      h.ModelID,
			IAMURL:       h.IAMURL,
			APIVersion:   h.APIVersion,
			Timeout:      time.Duration(h.TimeoutSecs) * time.Second,
			MaxRetries:   h.MaxRetries,
			MaxNewTokens: h.MaxNewTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("hosted model: %w", err)
		}
		s.generator = g
	} else {
		s.logger.Warn("hosted model credentials not set, answering from retrieval only")
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// NewEmbedder assembles the configured embedder.
func NewEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		return openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

// NewStore assembles the configured vector store.
func NewStore(cfg config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "sqlite":
		dsn := "file::memory:"
		if cfg.SQLite != nil && cfg.SQLite.DSN != "" {
			dsn = cfg.SQLite.DSN
		}
		return sqlite.Open(dsn)
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, errors.New("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}

// Upload parses r, renders its rows and builds a fresh index. The new
// snapshot replaces the current one only when every step succeeds.
func (s *Session) Upload(ctx context.Context, name string, r io.Reader) (Dataset, error) {
	s.upload.Lock()
	defer s.upload.Unlock()

	logger := s.logger.With("file", name)
	table, err := tabular.Load(r, tabular.Options{ChunkSize: s.cfg.Data.ChunkSize, Logger: logger})
	if err != nil {
		logger.Error("dataset rejected", "error", err)
		return Dataset{}, err
	}
	docs, err := encoder.RenderAll(table, logger)
	if err != nil {
		return Dataset{}, fmt.Errorf("render documents: %w", err)
	}
	emb, err := s.newEmbedder()
	if err != nil {
		return Dataset{}, fmt.Errorf("embedder: %w", err)
	}
	store, err := s.newStore()
	if err != nil {
		return Dataset{}, fmt.Errorf("vector store: %w", err)
	}
	ix := index.New(emb, store, logger)
	if err := ix.Build(ctx, docs); err != nil {
		_ = ix.Close()
		logger.Error("index build failed, keeping previous dataset", "error", err)
		return Dataset{}, fmt.Errorf("build index: %w", err)
	}

	next := &snapshot{
		dataset: Dataset{
			ID:       uuid.NewString(),
			Name:     name,
			Records:  table.Len(),
			LoadedAt: time.Now().UTC(),
		},
		table:    table,
		index:    ix,
		pipeline: answer.NewPipeline(ix, s.generator, logger),
	}
	s.mu.Lock()
	prev := s.cur
	s.cur = next
	s.mu.Unlock()
	if prev != nil {
		if err := prev.index.Close(); err != nil {
			logger.Warn("closing previous index", "error", err)
		}
	}
	logger.Info("dataset ready", "id", next.dataset.ID, "records", next.dataset.Records, "documents", len(docs))
	return next.dataset, nil
}

// UploadFile opens path and uploads it under its path name.
func (s *Session) UploadFile(ctx context.Context, path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, &domain.LoadError{Reason: "could not open file", Err: err}
	}
	defer f.Close()
	return s.Upload(ctx, path, f)
}

func (s *Session) snapshot() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Loaded reports the current dataset, if any.
func (s *Session) Loaded() (Dataset, bool) {
	cur := s.snapshot()
	if cur == nil {
		return Dataset{}, false
	}
	return cur.dataset, true
}

// Mode is the answering mode of the current or next pipeline.
func (s *Session) Mode() string {
	if s.generator != nil {
		return answer.ModeHosted
	}
	return answer.ModeLocal
}

func (s *Session) topK(k int) int {
	if k <= 0 {
		return s.cfg.Retrieval.TopK
	}
	return k
}

// Ask answers question from the current dataset.
func (s *Session) Ask(ctx context.Context, question string, k int) []string {
	cur := s.snapshot()
	if cur == nil {
		return []string{"Error: " + domain.ErrNotInitialized.Error()}
	}
	return cur.pipeline.Answer(ctx, question, s.topK(k))
}

// Similar returns the documents nearest to question.
func (s *Session) Similar(ctx context.Context, question string, k int) []domain.DocumentResult {
	cur := s.snapshot()
	if cur == nil {
		return []domain.DocumentResult{{Error: domain.ErrNotInitialized.Error()}}
	}
	return cur.pipeline.SimilarDocuments(ctx, question, s.topK(k))
}

func (s *Session) table() *tabular.Table {
	if cur := s.snapshot(); cur != nil {
		return cur.table
	}
	return nil
}

// Search finds codes and titles containing query.
func (s *Session) Search(query string) []domain.CodeTitle { return s.table().Search(query) }

// Factors returns every row for code as column -> cell text.
func (s *Session) Factors(code string) []map[string]string {
	rows := s.table().EmissionFactors(code)
	out := make([]map[string]string, len(rows))
	for i, r := range rows {
		out[i] = r.Map()
	}
	return out
}

// Trends averages the numeric columns for code.
func (s *Session) Trends(code string) (tabular.Trends, bool) { return s.table().EmissionTrends(code) }

// Summary describes the current dataset; it is empty before the first upload.
func (s *Session) Summary() tabular.Summary { return s.table().EmissionSummary() }

// Close releases the current index.
func (s *Session) Close() error {
	s.mu.Lock()
	cur := s.cur
	s.cur = nil
	s.mu.Unlock()
	if cur == nil {
		return nil
	}
	return cur.index.Close()
}
