package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghgrag/internal/answer"
	"ghgrag/internal/config"
	"ghgrag/internal/domain"
	"ghgrag/internal/embedding"
	"ghgrag/internal/embedding/tfidf"
)

const header = "2017 NAICS Code,2017 NAICS Title,GHG,Unit,Supply Chain Emission Factors without Margins,Margins of Supply Chain Emission Factors,Supply Chain Emission Factors with Margins,X\n"

const factorsCSV = header +
	"111110,Soybean Farming,All GHGs,kg CO2e/2022 USD,0.5,0.1,0.6,2\n" +
	"111110,Soybean Farming,CO2,kg CO2e/2022 USD,0.3,0.1,0.4,4\n" +
	"112111,Beef Cattle Ranching,All GHGs,kg CO2e/2022 USD,2.5,0.2,2.7,10\n"

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := New(config.Default(), config.Credentials{}, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmptySession(t *testing.T) {
	s := newSession(t)
	_, ok := s.Loaded()
	assert.False(t, ok)
	assert.Equal(t, []string{"Error: RAG system not properly initialized"}, s.Ask(context.Background(), "q", 0))
	assert.NotEmpty(t, s.Similar(context.Background(), "q", 0)[0].Error)
	assert.Empty(t, s.Search("soy"))
	assert.Equal(t, 0, s.Summary().TotalRecords)
	_, ok = s.Trends("111110")
	assert.False(t, ok)
	assert.Equal(t, answer.ModeLocal, s.Mode())
}

func TestUploadThenQuery(t *testing.T) {
	s := newSession(t)
	ds, err := s.Upload(context.Background(), "factors.csv", strings.NewReader(factorsCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Records)
	assert.NotEmpty(t, ds.ID)

	sum := s.Summary()
	assert.Equal(t, 3, sum.TotalRecords)
	assert.Equal(t, 2, sum.UniqueNAICS)

	tr, ok := s.Trends("111110")
	require.True(t, ok)
	assert.InDelta(t, 3.0, tr.EmissionFactors["X"], 1e-12)

	factors := s.Factors("111110")
	require.Len(t, factors, 2)
	assert.Equal(t, "Soybean Farming", factors[0]["2017 NAICS Title"])
	assert.Empty(t, s.Factors("999999"))

	answers := s.Ask(context.Background(), "beef cattle", 0)
	require.Len(t, answers, 3, "default k comes from config")
	assert.Contains(t, answers[0], "Beef Cattle Ranching")

	similar := s.Similar(context.Background(), "soybean", 1)
	require.Len(t, similar, 1)
	assert.Equal(t, "111110", similar[0].Metadata["naics_code"])
}

func TestFailedUploadKeepsPreviousDataset(t *testing.T) {
	s := newSession(t)
	first, err := s.Upload(context.Background(), "factors.csv", strings.NewReader(factorsCSV))
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "bad.csv", strings.NewReader("NAICS Code,NAICS Title,GHG\n1,a,b\n"))
	var le *domain.LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "missing required columns", le.Reason)

	cur, ok := s.Loaded()
	require.True(t, ok)
	assert.Equal(t, first.ID, cur.ID)
	assert.Equal(t, 3, s.Summary().TotalRecords)
	assert.Len(t, s.Search("soybean"), 2)
}

type brokenEmbedder struct{ embedding.Embedder }

func (brokenEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("embedding service down")
}

func TestIndexFailureKeepsPreviousDataset(t *testing.T) {
	broken := false
	s := newSession(t, WithEmbedderFactory(func() (embedding.Embedder, error) {
		if broken {
			return brokenEmbedder{tfidf.NewEmbedder()}, nil
		}
		return tfidf.NewEmbedder(), nil
	}))
	first, err := s.Upload(context.Background(), "factors.csv", strings.NewReader(factorsCSV))
	require.NoError(t, err)

	broken = true
	_, err = s.Upload(context.Background(), "again.csv", strings.NewReader(factorsCSV))
	var re *domain.RetrievalError
	require.True(t, errors.As(err, &re))

	cur, _ := s.Loaded()
	assert.Equal(t, first.ID, cur.ID)
	assert.Contains(t, s.Ask(context.Background(), "soybean", 1)[0], "Soybean Farming")
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) (string, error) {
	return "", &domain.HostedModelError{Op: "generate", Err: errors.New("connection refused")}
}

func (failingGenerator) ModelName() string { return "unreachable" }

func TestUnreachableHostedModelStillAnswers(t *testing.T) {
	s := newSession(t, WithGenerator(failingGenerator{}))
	assert.Equal(t, answer.ModeHosted, s.Mode())
	_, err := s.Upload(context.Background(), "factors.csv", strings.NewReader(factorsCSV))
	require.NoError(t, err)

	got := s.Ask(context.Background(), "soybean", 2)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "NAICS Code: 111110")
}

func TestUploadFile(t *testing.T) {
	s := newSession(t)
	path := filepath.Join(t.TempDir(), "factors.csv")
	require.NoError(t, os.WriteFile(path, []byte(factorsCSV), 0o644))
	ds, err := s.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, ds.Name)

	_, err = s.UploadFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	var le *domain.LoadError
	assert.True(t, errors.As(err, &le))
}

func TestFactories(t *testing.T) {
	_, err := NewEmbedder(config.EmbedderConfig{Type: "bogus"})
	assert.Error(t, err)
	_, err = NewStore(config.VectorStoreConfig{Type: "bogus"})
	assert.Error(t, err)
	_, err = NewStore(config.VectorStoreConfig{Type: "qdrant"})
	assert.Error(t, err)

	st, err := NewStore(config.VectorStoreConfig{Type: "sqlite"})
	require.NoError(t, err)
	assert.NoError(t, st.Close())
}

func TestCredentialsSelectHostedMode(t *testing.T) {
	s, err := New(config.Default(), config.Credentials{APIKey: "k", CloudURL: "https://example.invalid", ProjectID: "p"}, nil)
	require.NoError(t, err)
	assert.Equal(t, answer.ModeHosted, s.Mode())
}

func TestSQLiteFileStoreAcrossReloads(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore = config.VectorStoreConfig{
		Type:   "sqlite",
		SQLite: &config.SQLiteConfig{DSN: filepath.Join(t.TempDir(), "vectors.db")},
	}
	s, err := New(cfg, config.Credentials{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for range 2 {
		_, err := s.Upload(context.Background(), "factors.csv", strings.NewReader(factorsCSV))
		require.NoError(t, err)
	}
	got := s.Ask(context.Background(), "beef cattle", 1)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Beef Cattle Ranching")
}
