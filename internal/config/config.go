package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment keys recognised for hosted-model credentials.
const (
	EnvAPIKey    = "API_KEY"
	EnvCloudURL  = "CLOUD_URL"
	EnvProjectID = "PROJECT_ID"
)

// DataConfig controls CSV ingestion.
type DataConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// RetrievalConfig controls similarity search.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	SQLite *SQLiteConfig `yaml:"sqlite,omitempty"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// SQLiteConfig points the sqlite vector store at a database.
type SQLiteConfig struct {
	DSN string `yaml:"dsn"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// HostedModelConfig configures the watsonx.ai text generation call.
type HostedModelConfig struct {
	ModelID      string `yaml:"model_id"`
	IAMURL       string `yaml:"iam_url"`
	APIVersion   string `yaml:"api_version"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
	MaxRetries   int    `yaml:"max_retries"`
	MaxNewTokens int    `yaml:"max_new_tokens"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Data        DataConfig        `yaml:"data"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	HostedModel HostedModelConfig `yaml:"hosted_model"`
	Server      ServerConfig      `yaml:"server"`
}

// Credentials are the hosted-model secrets. They never live in the YAML file.
type Credentials struct {
	APIKey    string
	CloudURL  string
	ProjectID string
}

// CredentialsFromEnv reads API_KEY, CLOUD_URL and PROJECT_ID.
func CredentialsFromEnv() Credentials {
	return Credentials{
		APIKey:    strings.TrimSpace(os.Getenv(EnvAPIKey)),
		CloudURL:  NormalizeCloudURL(os.Getenv(EnvCloudURL)),
		ProjectID: strings.TrimSpace(os.Getenv(EnvProjectID)),
	}
}

// Available reports whether all three values are present.
func (c Credentials) Available() bool {
	return c.APIKey != "" && c.CloudURL != "" && c.ProjectID != ""
}

// NormalizeCloudURL prefixes https:// when the scheme is missing.
func NormalizeCloudURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ghgrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/ghgrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ghgrag", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "tfidf"},
		VectorStore: VectorStoreConfig{Type: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Data.ChunkSize <= 0 {
		cfg.Data.ChunkSize = 10000
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.VectorStore.Type == "sqlite" {
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.DSN == "" {
			cfg.VectorStore.SQLite.DSN = "file::memory:"
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil && cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "ghg_emission_factors"
	}
	h := &cfg.HostedModel
	if h.ModelID == "" {
		h.ModelID = "meta-llama/llama-3-405b-instruct"
	}
	if h.IAMURL == "" {
		h.IAMURL = "https://iam.cloud.ibm.com/identity/token"
	}
	if h.APIVersion == "" {
		h.APIVersion = "2023-05-29"
	}
	if h.TimeoutSecs <= 0 {
		h.TimeoutSecs = 60
	}
	switch {
	case h.MaxRetries == 0:
		h.MaxRetries = 2
	case h.MaxRetries < 0:
		h.MaxRetries = 0
	}
	if h.MaxNewTokens <= 0 {
		h.MaxNewTokens = 512
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}
