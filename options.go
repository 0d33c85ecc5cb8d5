package itemrec

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults applied by New.
const (
	DefaultName       = "default"
	DefaultDimensions = 256
	DefaultPoolSize   = 50
	DefaultMaxPool    = 200
	DefaultResults    = 10
)

// Option configures the Recommender.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	name   string
	domain string

	addrs     []string
	password  string
	keyPrefix string

	artifactPath string

	embedder    Embedder
	encoderInfo EncoderInfo
	dimensions  int

	backends  []Backend
	fusion    FusionRule
	scorer    Scorer
	poolSize  int
	maxPool   int
	results   int
	cacheSize int

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

func defaultConfig() *clientConfig {
	return &clientConfig{
		name:       DefaultName,
		keyPrefix:  "itemrec:",
		dimensions: DefaultDimensions,
		backends:   []Backend{BackendDense, BackendLexical},
		fusion:     FusionRRF,
		scorer:     ScorerOverlap,
		poolSize:   DefaultPoolSize,
		maxPool:    DefaultMaxPool,
		results:    DefaultResults,
	}
}

// WithName sets the deployment name used in keys, metrics and provenance.
func WithName(name string) Option {
	return optionFunc(func(c *clientConfig) {
		c.name = name
	})
}

// WithDomain restricts ingestion to items tagged with the given domain.
func WithDomain(tag string) Option {
	return optionFunc(func(c *clientConfig) {
		c.domain = tag
	})
}

// WithRedis keeps item metadata and the index artifact in Redis instead of memory.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithKeyPrefix sets the Redis key prefix. Default: "itemrec:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithArtifactFile persists snapshots to a local file.
// Ignored when WithRedis is set: the artifact then lives in Redis.
func WithArtifactFile(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.artifactPath = path
	})
}

// WithEmbedder sets a custom text embedding model and its identity.
func WithEmbedder(e Embedder, info EncoderInfo) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
		c.encoderInfo = info
	})
}

// WithHashingEncoder uses the built-in feature-hashing encoder with the given
// dimensionality. This is the default, with 256 dimensions.
func WithHashingEncoder(dims int) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = nil
		c.dimensions = dims
	})
}

// WithBackends selects the retrieval backends. Default: dense and lexical.
func WithBackends(backends ...Backend) Option {
	return optionFunc(func(c *clientConfig) {
		c.backends = backends
	})
}

// WithFusion selects how backend lists are merged. Default: RRF.
func WithFusion(rule FusionRule) Option {
	return optionFunc(func(c *clientConfig) {
		c.fusion = rule
	})
}

// WithScorer selects the re-ranking scorer. Default: overlap.
func WithScorer(s Scorer) Option {
	return optionFunc(func(c *clientConfig) {
		c.scorer = s
	})
}

// WithSizes sets the default candidate pool size and result count.
// Defaults: 50 and 10.
func WithSizes(pool, results int) Option {
	return optionFunc(func(c *clientConfig) {
		c.poolSize = pool
		c.results = results
	})
}

// WithMaxPool caps the candidate pool a caller may request. Default: 200.
func WithMaxPool(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxPool = n
	})
}

// WithCacheSize enables an LRU cache of responses per snapshot.
// Default: 0 (disabled).
func WithCacheSize(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheSize = n
	})
}

// WithLogger enables structured logging for recommender operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers operation counts and durations
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
