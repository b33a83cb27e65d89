// Package config loads parser settings from a .env file, an optional YAML
// file and the environment, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"auction-parser/internal/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// File is the YAML layout. Empty values keep the defaults.
type File struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Site    SiteConfig    `yaml:"site"`
	Pacing  PacingConfig  `yaml:"pacing"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
}

type HTTPConfig struct {
	Timeout           string   `yaml:"timeout"`
	RequestsPerSecond *float64 `yaml:"requests_per_second"`
	UserAgent         string   `yaml:"user_agent"`
	AcceptLanguage    string   `yaml:"accept_language"`
}

type SiteConfig struct {
	Origin             string `yaml:"origin"`
	ListingURLTemplate string `yaml:"listing_url_template"`
}

type PacingConfig struct {
	PageDelay      string `yaml:"page_delay"`
	Jitter         string `yaml:"jitter"`
	MinDelay       string `yaml:"min_delay"`
	MaxPages       int    `yaml:"max_pages"`
	EmptyPageLimit int    `yaml:"empty_page_limit"`
}

type StorageConfig struct {
	ResultsDir  string `yaml:"results_dir"`
	DatabaseURL string `yaml:"database_url"`
	MaxConns    int    `yaml:"max_conns"`
}

type APIConfig struct {
	Port string `yaml:"port"`
}

// Load returns the default configuration overlaid with the YAML file at path
// (skipped when path is empty) and then with environment variables. A .env
// file in the working directory is loaded first if present.
func Load(path string) (*types.Config, error) {
	_ = godotenv.Load()

	config := types.DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := f.apply(config); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func (f File) apply(c *types.Config) error {
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"http.timeout", f.HTTP.Timeout, &c.Timeout},
		{"pacing.page_delay", f.Pacing.PageDelay, &c.PageDelay},
		{"pacing.jitter", f.Pacing.Jitter, &c.PageDelayJitter},
		{"pacing.min_delay", f.Pacing.MinDelay, &c.MinPageDelay},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	if f.HTTP.RequestsPerSecond != nil {
		c.RequestsPerSecond = *f.HTTP.RequestsPerSecond
	}
	setString(&c.UserAgent, f.HTTP.UserAgent)
	setString(&c.AcceptLanguage, f.HTTP.AcceptLanguage)
	setString(&c.SiteOrigin, f.Site.Origin)
	setString(&c.ListingURLTemplate, f.Site.ListingURLTemplate)
	setString(&c.ResultsDir, f.Storage.ResultsDir)
	setString(&c.DatabaseURL, f.Storage.DatabaseURL)
	setString(&c.APIPort, f.API.Port)
	if f.Storage.MaxConns > 0 {
		c.MaxDBConns = f.Storage.MaxConns
	}
	if f.Pacing.MaxPages > 0 {
		c.MaxPages = f.Pacing.MaxPages
	}
	if f.Pacing.EmptyPageLimit > 0 {
		c.EmptyPageLimit = f.Pacing.EmptyPageLimit
	}
	return nil
}

func applyEnv(c *types.Config) error {
	setString(&c.DatabaseURL, os.Getenv("PG_DSN"))
	setString(&c.ResultsDir, os.Getenv("RESULTS_DIR"))
	setString(&c.APIPort, os.Getenv("API_PORT"))
	setString(&c.SiteOrigin, os.Getenv("SITE_ORIGIN"))
	setString(&c.ListingURLTemplate, os.Getenv("LISTING_URL_TEMPLATE"))

	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			// Plain numbers are seconds.
			secs, serr := strconv.Atoi(v)
			if serr != nil {
				return fmt.Errorf("REQUEST_TIMEOUT: %w", err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.Timeout = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// NewLogger builds the binaries' logger. LOG_LEVEL wins over verbose.
func NewLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()

	// Set timestamp format with milliseconds
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if level, err := logrus.ParseLevel(levelStr); err == nil {
			logger.SetLevel(level)
			return logger
		}
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
