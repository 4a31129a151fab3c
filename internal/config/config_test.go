package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.Data.ChunkSize)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, "meta-llama/llama-3-405b-instruct", cfg.HostedModel.ModelID)
	assert.Equal(t, 2, cfg.HostedModel.MaxRetries)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "data:\n  chunk_size: 50\nvector_store:\n  type: sqlite\nembedder:\n  type: openai\n  openai:\n    model: nomic-embed-text\nhosted_model:\n  max_retries: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Data.ChunkSize)
	require.NotNil(t, cfg.VectorStore.SQLite)
	assert.Equal(t, "file::memory:", cfg.VectorStore.SQLite.DSN)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 0, cfg.HostedModel.MaxRetries)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Retrieval.TopK = 7
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Retrieval.TopK)
}

func TestNormalizeCloudURL(t *testing.T) {
	assert.Equal(t, "https://us-south.ml.cloud.ibm.com", NormalizeCloudURL("us-south.ml.cloud.ibm.com"))
	assert.Equal(t, "https://us-south.ml.cloud.ibm.com", NormalizeCloudURL("https://us-south.ml.cloud.ibm.com/"))
	assert.Equal(t, "http://localhost:9000", NormalizeCloudURL("http://localhost:9000"))
	assert.Equal(t, "", NormalizeCloudURL("  "))
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvCloudURL, "eu-de.ml.cloud.ibm.com")
	t.Setenv(EnvProjectID, "")
	c := CredentialsFromEnv()
	assert.False(t, c.Available())
	assert.Equal(t, "https://eu-de.ml.cloud.ibm.com", c.CloudURL)

	t.Setenv(EnvProjectID, "proj")
	assert.True(t, CredentialsFromEnv().Available())
}
