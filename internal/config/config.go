package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the itemrec service configuration.
type Config struct {
	HTTP        HTTPConfig                  `yaml:"http"`
	Database    DatabaseConfig              `yaml:"database"`
	Embedding   EmbeddingConfig             `yaml:"embedding"`
	Auth        AuthConfig                  `yaml:"auth"`
	Storage     StorageConfig               `yaml:"storage"`
	Logging     LoggingConfig               `yaml:"logging"`
	Deployments map[string]DeploymentConfig `yaml:"deployments"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
// Admin keys may also rebuild datasets; with no admin keys any API key may.
type AuthConfig struct {
	APIKeys   []string `yaml:"api_keys"`
	AdminKeys []string `yaml:"admin_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings. Empty addrs disables the store:
// metadata stays in memory, embedding cache and published lists are off.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a Redis store is configured.
func (d DatabaseConfig) Enabled() bool { return len(d.Addrs) > 0 }

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix     string `yaml:"key_prefix"`
	CacheTTLHours int    `yaml:"embedding_cache_ttl_hours"` // 0 = no expiry
}

// EmbeddingConfig holds encoder settings.
type EmbeddingConfig struct {
	Providers   map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers map[string]VectorizerConfig `yaml:"vectorizers"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ProviderHashing is the built-in local encoder; it needs no provider entry.
const ProviderHashing = "hashing"

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Version             string `yaml:"version"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	MaxInputRunes       int    `yaml:"max_input_runes"`
	BatchSize           int    `yaml:"batch_size"`
	Cache               bool   `yaml:"cache"`
}

// DeploymentConfig parameterizes one recommender over one homogeneous corpus.
type DeploymentConfig struct {
	Domain     string          `yaml:"domain"`
	Vectorizer string          `yaml:"vectorizer"`
	Corpus     CorpusConfig    `yaml:"corpus"`
	Enrich     EnrichConfig    `yaml:"enrich"`
	Artifact   ArtifactConfig  `yaml:"artifact"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`
	Rerank     RerankConfig    `yaml:"rerank"`
	PoolSize   int             `yaml:"pool_size"`
	MaxPool    int             `yaml:"max_pool"`
	Results    int             `yaml:"results"`
	MaxResults int             `yaml:"max_results"`
	Timeouts   TimeoutsConfig  `yaml:"timeouts"`
	Retry      RetryConfig     `yaml:"retry"`
	CacheSize  int             `yaml:"cache_size"` // 0 = response cache off
	// MaxSkipRatio bounds the share of corpus items an index build may drop
	// for having no usable text (0 = indexer default).
	MaxSkipRatio float64 `yaml:"max_skip_ratio"`
}

// CorpusConfig locates the item metadata to ingest.
type CorpusConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // jsonl, mathe, datafinder, croissant
}

// EnrichConfig turns on LLM-written abstracts for the corpus. `build` generates
// the missing ones into Output; every command merges Output into the items.
type EnrichConfig struct {
	Provider    string  `yaml:"provider"` // entry of embedding.providers supplying key and base URL
	Model       string  `yaml:"model"`
	Output      string  `yaml:"output"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Concurrency int     `yaml:"concurrency"`
}

// Enabled reports whether abstracts are generated or merged.
func (e EnrichConfig) Enabled() bool { return e.Output != "" }

// ArtifactConfig locates the persisted index snapshot: a file path or a Redis key.
type ArtifactConfig struct {
	Path string `yaml:"path"`
	Key  string `yaml:"key"`
}

// RetrievalConfig configures candidate generation.
type RetrievalConfig struct {
	// Engine runs the queries: memory (in-process snapshot) or
	// redis_search (FT.SEARCH over a mirrored snapshot).
	Engine   string   `yaml:"engine"`
	Backends []string `yaml:"backends"` // dense, lexical
	Metric   string   `yaml:"metric"`   // cosine, inner_product
	Fusion   string   `yaml:"fusion"`   // rrf, weighted
	RRFK     int      `yaml:"rrf_k"`
	Alpha    float64  `yaml:"alpha"`
	BM25K1   float64  `yaml:"bm25_k1"`
	BM25B    float64  `yaml:"bm25_b"`
}

// Retrieval engines.
const (
	EngineMemory      = "memory"
	EngineRedisSearch = "redis_search"
)

// RerankConfig configures the re-ranking scorer.
type RerankConfig struct {
	Scorer           string             `yaml:"scorer"` // overlap, embedding, cross_encoder, blend
	Vectorizer       string             `yaml:"vectorizer"`
	Blend            []BlendComponent   `yaml:"blend"`
	CoarseWeight     float64            `yaml:"coarse_weight"`
	FailureThreshold float64            `yaml:"failure_threshold"`
	Concurrency      int                `yaml:"concurrency"`
	BatchSize        int                `yaml:"batch_size"`
	CrossEncoder     CrossEncoderConfig `yaml:"cross_encoder"`
}

// BlendComponent is one weighted scorer inside a blend.
type BlendComponent struct {
	Scorer string  `yaml:"scorer"`
	Weight float64 `yaml:"weight"`
}

// CrossEncoderConfig holds remote cross-encoder settings.
type CrossEncoderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	MaxFailures int    `yaml:"max_failures"` // consecutive failures before the breaker opens
}

// TimeoutsConfig holds per-stage budgets.
type TimeoutsConfig struct {
	EmbedMs    int `yaml:"embed_ms"`
	RetrieveMs int `yaml:"retrieve_ms"`
	RerankMs   int `yaml:"rerank_ms"`
}

// Embed returns the embed stage budget.
func (t TimeoutsConfig) Embed() time.Duration { return time.Duration(t.EmbedMs) * time.Millisecond }

// Retrieve returns the retrieve stage budget.
func (t TimeoutsConfig) Retrieve() time.Duration {
	return time.Duration(t.RetrieveMs) * time.Millisecond
}

// Rerank returns the rerank stage budget.
func (t TimeoutsConfig) Rerank() time.Duration { return time.Duration(t.RerankMs) * time.Millisecond }

// RetryConfig controls retry of timed-out stages.
type RetryConfig struct {
	Attempts  int `yaml:"attempts"` // 0 or 1
	BackoffMs int `yaml:"backoff_ms"`
}

// Backoff returns the pause before a retry.
func (r RetryConfig) Backoff() time.Duration { return time.Duration(r.BackoffMs) * time.Millisecond }

var (
	validEngines  = []string{EngineMemory, EngineRedisSearch}
	validBackends = []string{"dense", "lexical"}
	validMetrics  = []string{"cosine", "inner_product"}
	validFusions  = []string{"rrf", "weighted"}
	validScorers  = []string{"overlap", "embedding", "cross_encoder", "blend"}
	validFormats  = []string{"jsonl", "mathe", "datafinder", "croissant"}

	// Deployment names end up in Redis keys, scan patterns and URL paths.
	deploymentNameRegex = regexp.MustCompile(`^[\p{L}\p{N}_.-]{1,64}$`)
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes, expands, defaults and validates raw YAML.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "itemrec:"
	}
	for name, v := range c.Embedding.Vectorizers {
		if v.Version == "" {
			v.Version = "1"
		}
		if v.BatchSize <= 0 {
			v.BatchSize = 64
		}
		c.Embedding.Vectorizers[name] = v
	}
	for name, d := range c.Deployments {
		d.applyDefaults(name)
		c.Deployments[name] = d
	}
}

func (d *DeploymentConfig) applyDefaults(name string) {
	if d.Domain == "" {
		d.Domain = name
	}
	if d.Corpus.Format == "" {
		d.Corpus.Format = "jsonl"
	}
	r := &d.Retrieval
	if r.Engine == "" {
		r.Engine = EngineMemory
	}
	if len(r.Backends) == 0 {
		r.Backends = []string{"dense", "lexical"}
	}
	if r.Metric == "" {
		r.Metric = "cosine"
	}
	if r.Fusion == "" {
		r.Fusion = "rrf"
	}
	if r.RRFK <= 0 {
		r.RRFK = 60
	}
	if r.Alpha == 0 {
		r.Alpha = 0.5
	}
	if r.BM25K1 <= 0 {
		r.BM25K1 = 1.2
	}
	if r.BM25B == 0 {
		r.BM25B = 0.75
	}
	rr := &d.Rerank
	if rr.Scorer == "" {
		rr.Scorer = "overlap"
	}
	if rr.FailureThreshold == 0 {
		rr.FailureThreshold = 0.5
	}
	if rr.Concurrency <= 0 {
		rr.Concurrency = 4
	}
	if rr.BatchSize <= 0 {
		rr.BatchSize = 16
	}
	if rr.CrossEncoder.TimeoutSec <= 0 {
		rr.CrossEncoder.TimeoutSec = 10
	}
	if rr.CrossEncoder.MaxFailures <= 0 {
		rr.CrossEncoder.MaxFailures = 5
	}
	if d.MaxPool <= 0 {
		d.MaxPool = 200
	}
	if d.PoolSize <= 0 {
		d.PoolSize = min(50, d.MaxPool)
	}
	if d.MaxResults <= 0 {
		d.MaxResults = 20
	}
	if d.Results <= 0 {
		d.Results = min(10, d.MaxResults, d.PoolSize)
	}
	if d.Timeouts.EmbedMs <= 0 {
		d.Timeouts.EmbedMs = 2000
	}
	if d.Timeouts.RetrieveMs <= 0 {
		d.Timeouts.RetrieveMs = 500
	}
	if d.Timeouts.RerankMs <= 0 {
		d.Timeouts.RerankMs = 2000
	}
	if d.Retry.BackoffMs <= 0 {
		d.Retry.BackoffMs = 50
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	for name, v := range c.Embedding.Vectorizers {
		if v.Provider == "" {
			return fmt.Errorf("embedding.vectorizers.%s.provider is required", name)
		}
		if v.Provider != ProviderHashing {
			if _, ok := c.Embedding.Providers[v.Provider]; !ok {
				return fmt.Errorf("embedding.vectorizers.%s: unknown provider %q", name, v.Provider)
			}
		}
		if v.Dimensions <= 0 {
			return fmt.Errorf("embedding.vectorizers.%s.dimensions must be positive", name)
		}
		if v.Cache && !c.Database.Enabled() {
			return fmt.Errorf("embedding.vectorizers.%s.cache requires database.addrs", name)
		}
	}
	if len(c.Deployments) == 0 {
		return fmt.Errorf("at least one deployment is required")
	}
	for name, d := range c.Deployments {
		if !deploymentNameRegex.MatchString(name) {
			return fmt.Errorf("deployments: invalid name %q: letters, digits, '_', '.' and '-' only, at most 64", name)
		}
		if err := c.validateDeployment(d); err != nil {
			return fmt.Errorf("deployments.%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) validateDeployment(d DeploymentConfig) error {
	r := d.Retrieval
	if r.Engine != "" && !slices.Contains(validEngines, r.Engine) {
		return fmt.Errorf("retrieval.engine must be one of %v, got %q", validEngines, r.Engine)
	}
	if r.Engine == EngineRedisSearch && !c.Database.Enabled() {
		return fmt.Errorf("retrieval.engine %s requires database.addrs", EngineRedisSearch)
	}
	for _, b := range r.Backends {
		if !slices.Contains(validBackends, b) {
			return fmt.Errorf("retrieval.backends: unknown backend %q", b)
		}
	}
	if !slices.Contains(validMetrics, r.Metric) {
		return fmt.Errorf("retrieval.metric must be one of %v, got %q", validMetrics, r.Metric)
	}
	if !slices.Contains(validFusions, r.Fusion) {
		return fmt.Errorf("retrieval.fusion must be one of %v, got %q", validFusions, r.Fusion)
	}
	if r.Alpha < 0 || r.Alpha > 1 {
		return fmt.Errorf("retrieval.alpha must be between 0 and 1, got %g", r.Alpha)
	}
	if r.BM25B < 0 || r.BM25B > 1 {
		return fmt.Errorf("retrieval.bm25_b must be between 0 and 1, got %g", r.BM25B)
	}
	if !slices.Contains(validFormats, d.Corpus.Format) {
		return fmt.Errorf("corpus.format must be one of %v, got %q", validFormats, d.Corpus.Format)
	}
	if err := c.validateEnrich(d.Enrich); err != nil {
		return err
	}
	if d.Artifact.Key != "" && !c.Database.Enabled() {
		return fmt.Errorf("artifact.key requires database.addrs")
	}

	needsVectorizer := slices.Contains(r.Backends, "dense")
	if err := c.validateRerank(d.Rerank, &needsVectorizer); err != nil {
		return err
	}
	if needsVectorizer {
		if _, ok := c.Embedding.Vectorizers[d.Vectorizer]; !ok {
			return fmt.Errorf("vectorizer %q is not defined in embedding.vectorizers", d.Vectorizer)
		}
	}

	if d.PoolSize > d.MaxPool {
		return fmt.Errorf("pool_size %d exceeds max_pool %d", d.PoolSize, d.MaxPool)
	}
	if d.Results > d.PoolSize {
		return fmt.Errorf("results %d exceeds pool_size %d", d.Results, d.PoolSize)
	}
	if d.Results > d.MaxResults {
		return fmt.Errorf("results %d exceeds max_results %d", d.Results, d.MaxResults)
	}
	if d.Retry.Attempts < 0 || d.Retry.Attempts > 1 {
		return fmt.Errorf("retry.attempts must be 0 or 1, got %d", d.Retry.Attempts)
	}
	if d.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative")
	}
	if d.MaxSkipRatio < 0 || d.MaxSkipRatio > 1 {
		return fmt.Errorf("max_skip_ratio must be between 0 and 1, got %g", d.MaxSkipRatio)
	}
	return nil
}

func (c *Config) validateEnrich(e EnrichConfig) error {
	if e.Model == "" {
		return nil
	}
	if e.Output == "" {
		return fmt.Errorf("enrich.output is required with enrich.model")
	}
	if _, ok := c.Embedding.Providers[e.Provider]; !ok {
		return fmt.Errorf("enrich.provider %q is not defined in embedding.providers", e.Provider)
	}
	if e.Temperature < 0 || e.Temperature > 2 {
		return fmt.Errorf("enrich.temperature must be between 0 and 2, got %g", e.Temperature)
	}
	return nil
}

func (c *Config) validateRerank(rr RerankConfig, needsVectorizer *bool) error {
	if !slices.Contains(validScorers, rr.Scorer) {
		return fmt.Errorf("rerank.scorer must be one of %v, got %q", validScorers, rr.Scorer)
	}
	if rr.FailureThreshold < 0 || rr.FailureThreshold > 1 {
		return fmt.Errorf("rerank.failure_threshold must be between 0 and 1, got %g", rr.FailureThreshold)
	}
	scorers := []string{rr.Scorer}
	if rr.Scorer == "blend" {
		if len(rr.Blend) == 0 {
			return fmt.Errorf("rerank.blend requires at least one component")
		}
		scorers = scorers[:0]
		for _, b := range rr.Blend {
			if b.Scorer == "blend" || !slices.Contains(validScorers, b.Scorer) {
				return fmt.Errorf("rerank.blend: invalid scorer %q", b.Scorer)
			}
			if b.Weight < 0 {
				return fmt.Errorf("rerank.blend: negative weight for %q", b.Scorer)
			}
			scorers = append(scorers, b.Scorer)
		}
	}
	for _, s := range scorers {
		switch s {
		case "embedding":
			if rr.Vectorizer != "" {
				if _, ok := c.Embedding.Vectorizers[rr.Vectorizer]; !ok {
					return fmt.Errorf("rerank.vectorizer %q is not defined", rr.Vectorizer)
				}
			} else {
				*needsVectorizer = true
			}
		case "cross_encoder":
			if rr.CrossEncoder.BaseURL == "" {
				return fmt.Errorf("rerank.cross_encoder.base_url is required")
			}
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
