package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Jobs       JobsConfig       `koanf:"jobs"`
	Processing ProcessingConfig `koanf:"processing"`
	Storage    StorageConfig    `koanf:"storage"`
	Engines    EnginesConfig    `koanf:"engines"`
	API        APIConfig        `koanf:"api"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type JobsConfig struct {
	MaxConcurrent int    `koanf:"max_concurrent"`
	MaxQueueSize  int    `koanf:"max_queue_size"`
	Timeout       string `koanf:"timeout"`
	MaxRetries    int    `koanf:"max_retries"`
	MaxHistory    int    `koanf:"max_history"`

	JobTimeout time.Duration `koanf:"-"`
}

type ProcessingConfig struct {
	DefaultPipeline string    `koanf:"default_pipeline"`
	OCR             OCRConfig `koanf:"ocr"`
	PDF             PDFConfig `koanf:"pdf"`
	ASRModel        string    `koanf:"asr_model"`
}

type OCRConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Language string `koanf:"language"`
}

type PDFConfig struct {
	Backend         string `koanf:"backend"`
	FallbackBackend string `koanf:"fallback_backend"`
	TableMode       string `koanf:"table_mode"`
}

type StorageConfig struct {
	TempDir         string   `koanf:"temp_dir"`
	MaxFileSizeMB   int      `koanf:"max_file_size_mb"`
	AllowedSchemes  []string `koanf:"allowed_schemes"`
	DownloadTimeout string   `koanf:"download_timeout"`
	CleanupInterval string   `koanf:"cleanup_interval"`
	CleanupMaxAge   string   `koanf:"cleanup_max_age"`

	DownloadTimeoutDur time.Duration `koanf:"-"`
	CleanupIntervalDur time.Duration `koanf:"-"`
	CleanupMaxAgeDur   time.Duration `koanf:"-"`
}

type EnginesConfig struct {
	Adapter string            `koanf:"adapter"` // cli or serve
	CLI     CLIEngineConfig   `koanf:"cli"`
	Serve   ServeEngineConfig `koanf:"serve"`
}

type CLIEngineConfig struct {
	Binary string `koanf:"binary"`
}

type ServeEngineConfig struct {
	URL          string `koanf:"url"`
	ManageDaemon bool   `koanf:"manage_daemon"`
	Binary       string `koanf:"binary"`
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
}

type APIConfig struct {
	Key string `koanf:"key"` // optional static API key; empty disables auth
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// envKeys maps env names to config keys that contain underscores; the
// generic underscore-to-dot rewrite below cannot derive those.
var envKeys = map[string]string{
	"DM_JOBS_MAX_CONCURRENT":             "jobs.max_concurrent",
	"DM_JOBS_MAX_QUEUE_SIZE":             "jobs.max_queue_size",
	"DM_JOBS_MAX_RETRIES":                "jobs.max_retries",
	"DM_JOBS_MAX_HISTORY":                "jobs.max_history",
	"DM_PROCESSING_DEFAULT_PIPELINE":     "processing.default_pipeline",
	"DM_PROCESSING_ASR_MODEL":            "processing.asr_model",
	"DM_PROCESSING_PDF_FALLBACK_BACKEND": "processing.pdf.fallback_backend",
	"DM_PROCESSING_PDF_TABLE_MODE":       "processing.pdf.table_mode",
	"DM_STORAGE_TEMP_DIR":                "storage.temp_dir",
	"DM_STORAGE_MAX_FILE_SIZE_MB":        "storage.max_file_size_mb",
	"DM_STORAGE_ALLOWED_SCHEMES":         "storage.allowed_schemes",
	"DM_STORAGE_DOWNLOAD_TIMEOUT":        "storage.download_timeout",
	"DM_STORAGE_CLEANUP_INTERVAL":        "storage.cleanup_interval",
	"DM_STORAGE_CLEANUP_MAX_AGE":         "storage.cleanup_max_age",
	"DM_ENGINES_SERVE_MANAGE_DAEMON":     "engines.serve.manage_daemon",
}

// Load reads config from the TOML file (if provided) then overlays env vars.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	// Env vars: DM_SERVER_PORT -> server.port.
	// Empty values are skipped so they never shadow the TOML file.
	if err := k.Load(env.ProviderWithValue("DM_", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		if mapped, ok := envKeys[key]; ok {
			return mapped, value
		}
		mapped := strings.Replace(
			strings.ToLower(strings.TrimPrefix(key, "DM_")),
			"_", ".", -1,
		)
		return mapped, value
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Storage.TempDir == "" {
		cfg.Storage.TempDir = os.TempDir() + "/docmill"
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parseDurations() error {
	var err error
	if c.Jobs.JobTimeout, err = time.ParseDuration(c.Jobs.Timeout); err != nil {
		return fmt.Errorf("jobs.timeout: %w", err)
	}
	if c.Storage.DownloadTimeoutDur, err = time.ParseDuration(c.Storage.DownloadTimeout); err != nil {
		return fmt.Errorf("storage.download_timeout: %w", err)
	}
	if c.Storage.CleanupIntervalDur, err = time.ParseDuration(c.Storage.CleanupInterval); err != nil {
		return fmt.Errorf("storage.cleanup_interval: %w", err)
	}
	if c.Storage.CleanupMaxAgeDur, err = time.ParseDuration(c.Storage.CleanupMaxAge); err != nil {
		return fmt.Errorf("storage.cleanup_max_age: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be >= 1, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.MaxQueueSize < 1 {
		return fmt.Errorf("jobs.max_queue_size must be >= 1, got %d", c.Jobs.MaxQueueSize)
	}
	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.max_retries must be >= 0, got %d", c.Jobs.MaxRetries)
	}
	switch c.Processing.DefaultPipeline {
	case "standard", "vlm", "asr", "auto":
	default:
		return fmt.Errorf("processing.default_pipeline must be one of standard, vlm, asr, auto; got %q",
			c.Processing.DefaultPipeline)
	}
	switch c.Processing.PDF.TableMode {
	case "", "fast", "accurate":
	default:
		return fmt.Errorf("processing.pdf.table_mode must be fast or accurate, got %q",
			c.Processing.PDF.TableMode)
	}
	switch c.Engines.Adapter {
	case "cli", "serve":
	default:
		return fmt.Errorf("engines.adapter must be cli or serve, got %q", c.Engines.Adapter)
	}
	return nil
}
