package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"server.host": "127.0.0.1",
		"server.port": 8080,

		"jobs.max_concurrent": 3,
		"jobs.max_queue_size": 10,
		"jobs.timeout":        "10m",
		"jobs.max_retries":    2,
		"jobs.max_history":    100,

		"processing.default_pipeline":     "auto",
		"processing.ocr.enabled":          true,
		"processing.ocr.language":         "eng",
		"processing.pdf.backend":          "dlparse_v4",
		"processing.pdf.fallback_backend": "pypdfium2",
		"processing.pdf.table_mode":       "accurate",
		"processing.asr_model":            "whisper_small",

		"storage.max_file_size_mb": 500,
		"storage.allowed_schemes":  []string{"http", "https", "ftp"},
		"storage.download_timeout": "10m",
		"storage.cleanup_interval": "1h",
		"storage.cleanup_max_age":  "24h",

		"engines.adapter":             "cli",
		"engines.cli.binary":          "docling",
		"engines.serve.url":           "http://localhost:5001",
		"engines.serve.manage_daemon": false,
		"engines.serve.binary":        "docling-serve",
		"engines.serve.host":          "127.0.0.1",
		"engines.serve.port":          5001,

		"logging.level":  "info",
		"logging.format": "pretty",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
	return nil
}
