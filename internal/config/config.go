// Package config loads application configuration from an optional .env file, an optional YAML file and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	EnvPrefix     = "YTDL"
	EnvConfigFile = EnvPrefix + "_CONFIG_FILE"
	appName       = "video-downloader"
)

type Config struct {
	CacheDir     string        `envconfig:"CACHE_DIR" yaml:"cacheDir" validate:"required"`
	OutputDir    string        `envconfig:"OUTPUT_DIR" yaml:"outputDir" validate:"required"`
	DatabasePath string        `envconfig:"DATABASE_PATH" yaml:"databasePath" validate:"required"`
	JournalPath  string        `envconfig:"JOURNAL_PATH" yaml:"journalPath"`
	Backend      string        `envconfig:"BACKEND" yaml:"backend" validate:"oneof=youtube ytdlp"`
	YtdlpPath    string        `envconfig:"YTDLP_PATH" yaml:"ytdlpPath" validate:"required"`
	FfmpegPath   string        `envconfig:"FFMPEG_PATH" yaml:"ffmpegPath" validate:"required"`
	MuxFailure   string        `envconfig:"MUX_FAILURE" yaml:"muxFailure" validate:"oneof=fail degrade"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" yaml:"pollInterval" validate:"min=10ms"`
	LogLevel     string        `envconfig:"LOG_LEVEL" yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat    string        `envconfig:"LOG_FORMAT" yaml:"logFormat" validate:"oneof=console json"`
	HTTPAddr     string        `envconfig:"HTTP_ADDR" yaml:"httpAddr" validate:"required,hostname_port"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		CacheDir:     filepath.Join(os.TempDir(), appName),
		OutputDir:    "Movies",
		DatabasePath: appName + ".db",
		JournalPath:  appName + "-journal.db",
		Backend:      "youtube",
		YtdlpPath:    "yt-dlp",
		FfmpegPath:   "ffmpeg",
		MuxFailure:   "fail",
		PollInterval: 500 * time.Millisecond,
		LogLevel:     "info",
		LogFormat:    "console",
		HTTPAddr:     "127.0.0.1:8080",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Load builds the configuration. If path is empty, $YTDL_CONFIG_FILE is used; a missing config file or .env file is
// not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	c := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if data, err := os.ReadFile(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	// No default tags: envconfig would otherwise overwrite values from the config file
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
