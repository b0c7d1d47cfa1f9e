package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks every CURRICULUM_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "CURRICULUM_") {
			t.Setenv(key, "")
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Scoring.DepthWeight != 0.4 || cfg.Scoring.DifficultyWeight != 0.4 || cfg.Scoring.CohesionWeight != 0.2 {
		t.Errorf("composite weights = %+v, want 0.4/0.4/0.2", cfg.Scoring)
	}
	if cfg.Chunking.Strategy != "tokens" {
		t.Errorf("Chunking.Strategy = %q, want tokens", cfg.Chunking.Strategy)
	}
	if cfg.Aggregation.MaxPasses != 100 {
		t.Errorf("Aggregation.MaxPasses = %d, want 100", cfg.Aggregation.MaxPasses)
	}
	if cfg.Clustering.MaxAttempts != 3 {
		t.Errorf("Clustering.MaxAttempts = %d, want 3", cfg.Clustering.MaxAttempts)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
	if cfg.HasAIProvider() {
		t.Error("HasAIProvider() = true with no keys")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "curriculum.yaml")
	content := `
paths:
  content_store: /data/store.json
chunking:
  strategy: count
  target_chunks: 12
ai:
  clustering_providers: [anthropic, openai]
  anthropic:
    api_key: sk-ant
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Paths.ContentStore != "/data/store.json" {
		t.Errorf("ContentStore = %q", cfg.Paths.ContentStore)
	}
	if cfg.Chunking.Strategy != "count" || cfg.Chunking.TargetChunks != 12 {
		t.Errorf("Chunking = %+v", cfg.Chunking)
	}
	if cfg.Chunking.PayloadTokens != 12000 {
		t.Errorf("PayloadTokens = %d, default should survive a partial file", cfg.Chunking.PayloadTokens)
	}
	if len(cfg.AI.ClusteringProviders) != 2 || cfg.AI.ClusteringProviders[0] != "anthropic" {
		t.Errorf("ClusteringProviders = %v", cfg.AI.ClusteringProviders)
	}
	if !cfg.HasAIProvider() {
		t.Error("HasAIProvider() = false with an Anthropic key")
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "curriculum.toml")
	content := `
[similarity]
threshold = 0.8

[sequencing]
refine = false
min_items = 5

[log]
format = "text"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Similarity.Threshold != 0.8 {
		t.Errorf("Threshold = %v, want 0.8", cfg.Similarity.Threshold)
	}
	if cfg.Sequencing.Refine || cfg.Sequencing.MinItems != 5 {
		t.Errorf("Sequencing = %+v", cfg.Sequencing)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", cfg.Log.Format)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "curriculum.yml")
	if err := os.WriteFile(path, []byte("clustering:\n  parallelism: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CURRICULUM_CLUSTER_PARALLELISM", "9")
	t.Setenv("CURRICULUM_CLUSTER_STRICT", "true")
	t.Setenv("CURRICULUM_SIMILARITY_THRESHOLD", "0.65")
	t.Setenv("CURRICULUM_AI_SEQUENCING_PROVIDERS", "openai, ollama")
	t.Setenv("CURRICULUM_AI_OLLAMA_ENABLED", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Clustering.Parallelism != 9 || !cfg.Clustering.Strict {
		t.Errorf("Clustering = %+v", cfg.Clustering)
	}
	if cfg.Similarity.Threshold != 0.65 {
		t.Errorf("Threshold = %v, want 0.65", cfg.Similarity.Threshold)
	}
	if len(cfg.AI.SequencingProviders) != 2 || cfg.AI.SequencingProviders[1] != "ollama" {
		t.Errorf("SequencingProviders = %v", cfg.AI.SequencingProviders)
	}
	if !cfg.HasAIProvider() {
		t.Error("HasAIProvider() = false with Ollama enabled")
	}
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}

	ini := filepath.Join(dir, "curriculum.ini")
	if err := os.WriteFile(ini, []byte("x=1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(ini); err == nil {
		t.Error("Load() should fail for an unsupported format")
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[chunking\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("Load() should fail for malformed TOML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative weight", func(c *Config) { c.Scoring.CohesionWeight = -0.1 }, true},
		{"threshold above one", func(c *Config) { c.Similarity.Threshold = 1.5 }, true},
		{"unknown strategy", func(c *Config) { c.Chunking.Strategy = "pages" }, true},
		{"zero chunk target", func(c *Config) { c.Chunking.TargetChunks = 0 }, true},
		{"zero margin", func(c *Config) { c.Chunking.SafetyMargin = 0 }, true},
		{"count ignores payload", func(c *Config) { c.Chunking.Strategy = "count"; c.Chunking.PayloadTokens = 0 }, false},
		{"zero attempts", func(c *Config) { c.Clustering.MaxAttempts = 0 }, true},
		{"zero passes", func(c *Config) { c.Aggregation.MaxPasses = 0 }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, true},
		{"upper log level", func(c *Config) { c.Log.Level = "DEBUG" }, false},
		{"no content store", func(c *Config) { c.Paths.ContentStore = "" }, true},
		{"telegram token without chat", func(c *Config) { c.Notify.TelegramToken = "123:abc" }, true},
		{"telegram token with chat", func(c *Config) { c.Notify.TelegramToken = "123:abc"; c.Notify.TelegramChatID = "-100" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
