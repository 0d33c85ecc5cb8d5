package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
		Embedding: EmbeddingConfig{
			Vectorizers: map[string]VectorizerConfig{
				"local": {Provider: ProviderHashing, Dimensions: 64},
			},
		},
		Deployments: map[string]DeploymentConfig{
			"datasets": {Vectorizer: "local"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_NoDeployments(t *testing.T) {
	cfg := validConfig()
	cfg.Deployments = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing deployments")
	}
}

func TestValidate_DeploymentErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *DeploymentConfig)
		want   string
	}{
		{"unknown backend", func(d *DeploymentConfig) { d.Retrieval.Backends = []string{"sparse"} }, "unknown backend"},
		{"bad metric", func(d *DeploymentConfig) { d.Retrieval.Metric = "l2" }, "retrieval.metric"},
		{"bad fusion", func(d *DeploymentConfig) { d.Retrieval.Fusion = "max" }, "retrieval.fusion"},
		{"alpha range", func(d *DeploymentConfig) { d.Retrieval.Alpha = 1.5 }, "retrieval.alpha"},
		{"unknown vectorizer", func(d *DeploymentConfig) { d.Vectorizer = "missing" }, "vectorizer"},
		{"results above pool", func(d *DeploymentConfig) { d.Results = 60 }, "exceeds pool_size"},
		{"pool above max", func(d *DeploymentConfig) { d.PoolSize = 500 }, "exceeds max_pool"},
		{"retry attempts", func(d *DeploymentConfig) { d.Retry.Attempts = 3 }, "retry.attempts"},
		{"bad scorer", func(d *DeploymentConfig) { d.Rerank.Scorer = "bert" }, "rerank.scorer"},
		{"threshold", func(d *DeploymentConfig) { d.Rerank.FailureThreshold = 2 }, "failure_threshold"},
		{"cross encoder url", func(d *DeploymentConfig) { d.Rerank.Scorer = "cross_encoder" }, "base_url"},
		{"empty blend", func(d *DeploymentConfig) { d.Rerank.Scorer = "blend" }, "blend"},
		{"nested blend", func(d *DeploymentConfig) {
			d.Rerank.Scorer = "blend"
			d.Rerank.Blend = []BlendComponent{{Scorer: "blend", Weight: 1}}
		}, "invalid scorer"},
		{"bad format", func(d *DeploymentConfig) { d.Corpus.Format = "csv" }, "corpus.format"},
		{"artifact key without db", func(d *DeploymentConfig) { d.Artifact.Key = "snap" }, "artifact.key"},
		{"skip ratio", func(d *DeploymentConfig) { d.MaxSkipRatio = 1.5 }, "max_skip_ratio"},
		{"unknown engine", func(d *DeploymentConfig) { d.Retrieval.Engine = "faiss" }, "retrieval.engine"},
		{"redis search without db", func(d *DeploymentConfig) { d.Retrieval.Engine = EngineRedisSearch }, "requires database.addrs"},
		{"enrich without output", func(d *DeploymentConfig) { d.Enrich.Model = "mistral-7b" }, "enrich.output"},
		{"enrich unknown provider", func(d *DeploymentConfig) {
			d.Enrich = EnrichConfig{Model: "mistral-7b", Output: "enriched.jsonl", Provider: "bedrock"}
		}, "enrich.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			d := cfg.Deployments["datasets"]
			tt.mutate(&d)
			cfg.Deployments["datasets"] = d

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if !strings.HasPrefix(err.Error(), "deployments.datasets:") {
				t.Errorf("error %q is not scoped to the deployment", err)
			}
		})
	}
}

func TestValidate_DeploymentNames(t *testing.T) {
	for _, name := range []string{"a:b", "papers*", "x/y", "with space", "", strings.Repeat("n", 65)} {
		cfg := validConfig()
		cfg.Deployments[name] = cfg.Deployments["datasets"]
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "invalid name") {
			t.Errorf("name %q: expected invalid name error, got %v", name, err)
		}
	}
	for _, name := range []string{"mathe", "data_finder-v2", "hf.datasets", "наборы"} {
		cfg := validConfig()
		cfg.Deployments[name] = cfg.Deployments["datasets"]
		if err := cfg.Validate(); err != nil {
			t.Errorf("name %q: unexpected error %v", name, err)
		}
	}
}

func TestValidate_LexicalOnlyNeedsNoVectorizer(t *testing.T) {
	cfg := validConfig()
	d := cfg.Deployments["datasets"]
	d.Vectorizer = ""
	d.Retrieval.Backends = []string{"lexical"}
	cfg.Deployments["datasets"] = d

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_VectorizerProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Vectorizers["remote"] = VectorizerConfig{Provider: "nebius", Dimensions: 8}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	cfg.Embedding.Vectorizers["remote"] = VectorizerConfig{Provider: ProviderHashing, Dimensions: 8, Cache: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for cache without database")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Deployments: map[string]DeploymentConfig{"mathe": {}}}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Storage.KeyPrefix != "itemrec:" {
		t.Errorf("expected KeyPrefix='itemrec:', got %q", cfg.Storage.KeyPrefix)
	}

	d := cfg.Deployments["mathe"]
	if d.Domain != "mathe" {
		t.Errorf("expected domain to default to the deployment name, got %q", d.Domain)
	}
	if d.Retrieval.Engine != EngineMemory {
		t.Errorf("expected in-process engine by default, got %q", d.Retrieval.Engine)
	}
	if d.Retrieval.Fusion != "rrf" || d.Retrieval.RRFK != 60 {
		t.Errorf("unexpected fusion defaults: %+v", d.Retrieval)
	}
	if d.Retrieval.BM25K1 != 1.2 || d.Retrieval.BM25B != 0.75 {
		t.Errorf("unexpected bm25 defaults: %+v", d.Retrieval)
	}
	if d.Rerank.Scorer != "overlap" || d.Rerank.FailureThreshold != 0.5 {
		t.Errorf("unexpected rerank defaults: %+v", d.Rerank)
	}
	if d.PoolSize != 50 || d.MaxPool != 200 || d.Results != 10 || d.MaxResults != 20 {
		t.Errorf("unexpected sizes: pool=%d max=%d n=%d maxn=%d", d.PoolSize, d.MaxPool, d.Results, d.MaxResults)
	}
	if d.Timeouts.Rerank() != 2*time.Second {
		t.Errorf("unexpected rerank timeout %v", d.Timeouts.Rerank())
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:    HTTPConfig{ReadTimeoutSec: 30},
		Storage: StorageConfig{KeyPrefix: "custom:"},
		Deployments: map[string]DeploymentConfig{
			"x": {PoolSize: 5, Results: 3, Retrieval: RetrievalConfig{RRFK: 10}},
		},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Storage.KeyPrefix != "custom:" {
		t.Errorf("expected KeyPrefix='custom:', got %q", cfg.Storage.KeyPrefix)
	}
	d := cfg.Deployments["x"]
	if d.PoolSize != 5 || d.Results != 3 || d.Retrieval.RRFK != 10 {
		t.Errorf("defaults overrode explicit values: %+v", d)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("ITEMREC_TEST_PORT", "9090")

	got := string(expandEnvVars([]byte("port: ${ITEMREC_TEST_PORT}\nkey: ${ITEMREC_MISSING:-fallback}\nempty: ${ITEMREC_MISSING}")))
	want := "port: 9090\nkey: fallback\nempty: "
	if got != want {
		t.Errorf("expandEnvVars = %q, want %q", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	body := `
http:
  port: ${ITEMREC_TEST_PORT:-8081}
embedding:
  vectorizers:
    local:
      provider: hashing
      dimensions: 32
deployments:
  datasets:
    vectorizer: local
    retrieval:
      backends: [dense, lexical]
      fusion: weighted
      alpha: 0.7
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8081 {
		t.Errorf("expected port 8081, got %d", cfg.HTTP.Port)
	}
	d := cfg.Deployments["datasets"]
	if d.Retrieval.Fusion != "weighted" || d.Retrieval.Alpha != 0.7 {
		t.Errorf("unexpected retrieval config: %+v", d.Retrieval)
	}
	if cfg.Embedding.Vectorizers["local"].Version != "1" {
		t.Errorf("expected default vectorizer version, got %q", cfg.Embedding.Vectorizers["local"].Version)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
