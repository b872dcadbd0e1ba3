// Package config loads and validates enricher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	PDF       PDFConfig       `mapstructure:"pdf"`
	Learning  LearningConfig  `mapstructure:"learning"`
	Store     StoreConfig     `mapstructure:"store"`
	Supplier  SupplierConfig  `mapstructure:"supplier"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs job admission and reconciliation.
type SchedulerConfig struct {
	Tick              time.Duration `mapstructure:"tick"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	StaleGrace        time.Duration `mapstructure:"stale_grace"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
}

// HTTPConfig configures the direct fetch tier.
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxPages       int           `mapstructure:"max_pages"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// HeadlessConfig configures the rendered tier.
type HeadlessConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ShowBrowser     bool          `mapstructure:"show_browser"`
	ExecPath        string        `mapstructure:"exec_path"`
	PageTimeout     time.Duration `mapstructure:"page_timeout"`
	CaptchaWait     time.Duration `mapstructure:"captcha_wait"`
	CaptchaPoll     time.Duration `mapstructure:"captcha_poll"`
	MaxContactPages int           `mapstructure:"max_contact_pages"`
	MaxPDFs         int           `mapstructure:"max_pdfs"`
	// MinBodyBytes below which a rendered page counts as a possible wall.
	MinBodyBytes int `mapstructure:"min_body_bytes"`
}

// PDFConfig configures PDF text extraction.
type PDFConfig struct {
	PdfToTextPath string        `mapstructure:"pdftotext_path"`
	MaxBytes      int           `mapstructure:"max_bytes"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LearningConfig locates the learning file.
type LearningConfig struct {
	Path string `mapstructure:"path"`
}

// StoreConfig selects the job store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SupplierConfig selects how resolved domains are looked up and where
// supplier callbacks are published.
type SupplierConfig struct {
	Lookup      string `mapstructure:"lookup"`
	LookupDSN   string `mapstructure:"lookup_dsn"`
	LookupTable string `mapstructure:"lookup_table"`
	Publisher   string `mapstructure:"publisher"`
	ProjectID   string `mapstructure:"project_id"`
	Topic       string `mapstructure:"topic"`
}

// ArtifactsConfig selects where extraction audit artifacts go.
type ArtifactsConfig struct {
	Driver  string `mapstructure:"driver"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PolicyConfig lists domains that are never extracted. Entries are hosts
// or "*.suffix" wildcards.
type PolicyConfig struct {
	Blocklist []string `mapstructure:"blocklist"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. Environment variables use the
// ENRICHER_ prefix, e.g. ENRICHER_STORE_DRIVER=postgres.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("scheduler.tick", "2s")
	v.SetDefault("scheduler.batch_size", 10)
	v.SetDefault("scheduler.max_concurrent_jobs", 2)
	v.SetDefault("scheduler.stale_grace", "5m")
	v.SetDefault("scheduler.reconcile_interval", "1m")
	v.SetDefault("scheduler.max_attempts", 5)
	v.SetDefault("scheduler.backoff_initial", "1s")
	v.SetDefault("scheduler.backoff_max", "1m")
	v.SetDefault("http.connect_timeout", "5s")
	v.SetDefault("http.read_timeout", "8s")
	v.SetDefault("http.max_pages", 8)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.rate_limit_rps", 2.0)
	v.SetDefault("http.rate_limit_burst", 2)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.show_browser", false)
	v.SetDefault("headless.page_timeout", "15s")
	v.SetDefault("headless.captcha_wait", "180s")
	v.SetDefault("headless.captcha_poll", "3s")
	v.SetDefault("headless.max_contact_pages", 5)
	v.SetDefault("headless.max_pdfs", 3)
	v.SetDefault("headless.min_body_bytes", 0)
	v.SetDefault("pdf.pdftotext_path", "pdftotext")
	v.SetDefault("pdf.max_bytes", 10<<20)
	v.SetDefault("pdf.timeout", "30s")
	v.SetDefault("learning.path", "data/learning.json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "data/jobs.db")
	v.SetDefault("store.table", "enrichment_jobs")
	v.SetDefault("supplier.lookup", "memory")
	v.SetDefault("supplier.lookup_table", "suppliers")
	v.SetDefault("supplier.publisher", "memory")
	v.SetDefault("supplier.topic", "supplier-enrichment")
	v.SetDefault("artifacts.driver", "local")
	v.SetDefault("artifacts.base_dir", "data")
	v.SetDefault("artifacts.prefix", "artifacts")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "inn-enricher")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_jobs must be > 0")
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be > 0")
	}
	if c.HTTP.ConnectTimeout <= 0 || c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http timeouts must be > 0")
	}
	if c.Headless.Enabled && c.Headless.CaptchaPoll > c.Headless.CaptchaWait {
		return fmt.Errorf("headless.captcha_poll must not exceed headless.captcha_wait")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Supplier.Lookup {
	case "memory":
	case "postgres":
		if c.Supplier.LookupDSN == "" && c.Store.Driver != "postgres" {
			return fmt.Errorf("supplier.lookup_dsn is required unless store.driver is postgres")
		}
	default:
		return fmt.Errorf("unknown supplier.lookup %q", c.Supplier.Lookup)
	}
	switch c.Supplier.Publisher {
	case "memory":
	case "pubsub":
		if c.Supplier.ProjectID == "" || c.Supplier.Topic == "" {
			return fmt.Errorf("supplier.project_id and supplier.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown supplier.publisher %q", c.Supplier.Publisher)
	}
	switch c.Artifacts.Driver {
	case "memory", "none":
	case "local":
		if c.Artifacts.BaseDir == "" {
			return fmt.Errorf("artifacts.base_dir is required for the local driver")
		}
	case "gcs":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown artifacts.driver %q", c.Artifacts.Driver)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}
