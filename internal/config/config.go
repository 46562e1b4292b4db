package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Oracle     OracleConfig     `yaml:"oracle" mapstructure:"oracle"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Freshness  FreshnessConfig  `yaml:"freshness" mapstructure:"freshness"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	CheapModel     string `yaml:"cheap_model" mapstructure:"cheap_model"`
	ExpensiveModel string `yaml:"expensive_model" mapstructure:"expensive_model"`
	ExtractModel   string `yaml:"extract_model" mapstructure:"extract_model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina reader and search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// GoogleConfig holds the Places API key for fallback search.
type GoogleConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// RedisConfig enables the shared expensive-tier counter when URL is set.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// OracleConfig selects the oracle provider.
type OracleConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// ResolverConfig tunes interactive resolution.
type ResolverConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	DailyExpensiveCap   int64   `yaml:"daily_expensive_cap" mapstructure:"daily_expensive_cap"`
	ProbeChars          int     `yaml:"probe_chars" mapstructure:"probe_chars"`
}

// BatchConfig configures the batch sweeps.
type BatchConfig struct {
	Size           int    `yaml:"size" mapstructure:"size"`
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
	SearchAttempts int    `yaml:"search_attempts" mapstructure:"search_attempts"`
	MaxJobAttempts int    `yaml:"max_job_attempts" mapstructure:"max_job_attempts"`
	TemplatesFile  string `yaml:"templates_file" mapstructure:"templates_file"`
}

// VerifyConfig configures verification sweeps.
type VerifyConfig struct {
	RecheckAfterDays int `yaml:"recheck_after_days" mapstructure:"recheck_after_days"`
}

// RecheckAfter returns the recheck interval.
func (c VerifyConfig) RecheckAfter() time.Duration {
	return time.Duration(c.RecheckAfterDays) * 24 * time.Hour
}

// CrawlConfig configures fetching and crawling.
type CrawlConfig struct {
	Render      bool   `yaml:"render" mapstructure:"render"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPages    int    `yaml:"max_pages" mapstructure:"max_pages"`
	BlobDir     string `yaml:"blob_dir" mapstructure:"blob_dir"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`

	// RecrawlAfterDays is how long a crawled endpoint rests before the
	// crawl sweep fetches it again.
	RecrawlAfterDays int `yaml:"recrawl_after_days" mapstructure:"recrawl_after_days"`
}

// Timeout returns the per-page timeout.
func (c CrawlConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RecrawlAfter returns the recrawl interval.
func (c CrawlConfig) RecrawlAfter() time.Duration {
	return time.Duration(c.RecrawlAfterDays) * 24 * time.Hour
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// FreshnessConfig configures the staleness score.
type FreshnessConfig struct {
	WindowDays int `yaml:"window_days" mapstructure:"window_days"`
}

// Window returns the freshness window.
func (c FreshnessConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// TemporalConfig configures the sweep scheduler.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
	Cron      string `yaml:"cron" mapstructure:"cron"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.cheap_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.expensive_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.extract_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("oracle.provider", "anthropic")
	v.SetDefault("resolver.confidence_threshold", 0.70)
	v.SetDefault("resolver.daily_expensive_cap", 200)
	v.SetDefault("resolver.probe_chars", 5000)
	v.SetDefault("batch.size", 50)
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("batch.search_attempts", 3)
	v.SetDefault("batch.max_job_attempts", 0)
	v.SetDefault("verify.recheck_after_days", 30)
	v.SetDefault("crawl.render", true)
	v.SetDefault("crawl.timeout_secs", 45)
	v.SetDefault("crawl.max_pages", 2)
	v.SetDefault("crawl.blob_dir", "data/blobs")
	v.SetDefault("crawl.user_agent", "portal-resolver/1.0 (+https://sellsadvisors.com)")
	v.SetDefault("crawl.recrawl_after_days", 7)
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("freshness.window_days", 90)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 300)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "portal-sweeps")
	v.SetDefault("temporal.cron", "0 6 * * *")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
