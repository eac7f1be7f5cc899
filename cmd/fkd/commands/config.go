package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/pipeline"
	"fkd-backend/internal/scrapers/fkd"
	"fkd-backend/lib/configutil"
)

type PdfConfig struct {
	FontFile     string `json:"font_file" env:"FKD_FONT_FILE"`
	BoldFontFile string `json:"bold_font_file" env:"FKD_BOLD_FONT_FILE"`
}

type Config struct {
	BaseUrl           string   `json:"base_url" env:"FKD_BASE_URL"`
	OutputDir         string   `json:"output_dir" env:"FKD_OUTPUT_DIR"`
	Formats           []string `json:"formats" env:"FKD_FORMATS"`
	Concurrency       int      `json:"concurrency" env:"FKD_CONCURRENCY"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	CacheSize         int      `json:"cache_size"`
	// Db is a sqlite path or a libsql url, storage is disabled when empty.
	Db          string           `json:"db" env:"FKD_DB"`
	DbAuthToken string           `json:"db_auth_token" env:"FKD_DB_AUTH_TOKEN"`
	Pdf         PdfConfig        `json:"pdf"`
	Telemetry   telemetry.Config `json:"telemetry"`
}

func (c Config) withDefaults() Config {
	if c.BaseUrl == "" {
		c.BaseUrl = fkd.DefaultBaseUrl
	}
	if c.OutputDir == "" {
		c.OutputDir = "data"
	}
	if len(c.Formats) == 0 {
		for _, f := range pipeline.DefaultFormats {
			c.Formats = append(c.Formats, string(f))
		}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.CacheSize < 0 {
		c.CacheSize = 0
	}
	return c
}

func (c Config) clientOptions() fkd.Options {
	return fkd.Options{
		BaseUrl:           c.BaseUrl,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
		RequestsPerSecond: c.RequestsPerSecond,
		CacheSize:         c.CacheSize,
	}
}

// LoadConfig reads the config file at path, or config.json5 found by
// walking up from the working directory when path is empty, in which case
// a missing file is not an error. FKD_* environment variables override
// file values.
func LoadConfig(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	if path == "" {
		cfg, err = configutil.ReadRecursively[Config]("config.json5")
	} else {
		cfg, err = configutil.ReadConfig[Config](path)
	}
	if path == "" && errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file found, using defaults")
		err = nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	err = configutil.ApplyEnv(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return cfg.withDefaults(), nil
}
