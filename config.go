package travelkb

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the complete knowledge base configuration.
type Config struct {
	Store       string                       `yaml:"store"`
	LogLevel    string                       `yaml:"log_level"`
	MetricsAddr string                       `yaml:"metrics_addr"`
	Database    helper.DatabaseConfiguration `yaml:"database"`
	Crawl       model.CrawlConfig            `yaml:"crawl"`
	Embedding   model.EmbeddingConfig        `yaml:"embedding"`
	Query       model.QueryConfig            `yaml:"query"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Store:       StorePostgres,
		LogLevel:    "info",
		MetricsAddr: ":9090",
		Crawl:       model.DefaultCrawlConfig(),
		Embedding:   model.DefaultEmbeddingConfig(),
		Query:       model.DefaultQueryConfig(),
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file at path,
// a .env file in the working directory and finally the environment.
// A missing file is not an error; an unreadable or invalid one is.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, helper.NewError("read config file", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, helper.NewError("parse config file", err)
			}
		}
	}

	// Variables already set in the environment win over .env.
	_ = godotenv.Load()

	if err := config.applyEnv(); err != nil {
		return nil, helper.NewError("read environment", err)
	}

	if err := config.Validate(); err != nil {
		return nil, helper.NewError("validate config", err)
	}

	return config, nil
}

// Validate checks the parts of the configuration that do not depend on the store.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (use %q or %q)", c.Store, StorePostgres, StoreMemory)
	}
	if err := c.Crawl.Validate(); err != nil {
		return err
	}
	if c.Query.TopK <= 0 {
		return fmt.Errorf("query top_k must be positive, got %d", c.Query.TopK)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Store, "KB_STORE")
	setString(&c.LogLevel, "KB_LOG_LEVEL")
	setString(&c.MetricsAddr, "KB_METRICS_ADDR")

	setString(&c.Database.Host, "DATABASE_HOST")
	setString(&c.Database.Port, "DATABASE_PORT")
	setString(&c.Database.Database, "DATABASE_NAME")
	setString(&c.Database.Username, "DATABASE_USERNAME")
	setString(&c.Database.Password, "DATABASE_PASSWORD")
	setString(&c.Database.Schema, "DATABASE_SCHEMA")
	setString(&c.Database.SSLMode, "DATABASE_SSLMODE")

	setString(&c.Embedding.APIKey, "GOOGLE_API_KEY")
	setString(&c.Embedding.APIKey, "LLM_API_KEY")
	setString(&c.Embedding.Provider, "KB_EMBEDDING_PROVIDER")
	setString(&c.Embedding.Model, "KB_EMBEDDING_MODEL")
	if err := setInt(&c.Embedding.Dimension, "KB_EMBEDDING_DIMENSION"); err != nil {
		return err
	}

	setString(&c.Crawl.UserAgent, "KB_USER_AGENT")
	setString(&c.Crawl.TargetURL, "KB_TARGET_URL")
	setString(&c.Crawl.ScheduledTarget, "KB_SCHEDULED_TARGET")
	setString(&c.Crawl.SitemapMarker, "KB_SITEMAP_MARKER")
	setString(&c.Crawl.DomainMarker, "KB_DOMAIN_MARKER")
	if err := setInt(&c.Crawl.MaxNewArticles, "KB_MAX_ARTICLES"); err != nil {
		return err
	}
	if err := setDuration(&c.Crawl.Delay, "KB_CRAWL_DELAY"); err != nil {
		return err
	}

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go durations ("1500ms") and plain seconds ("1.5").
func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return nil
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = time.Duration(seconds * float64(time.Second))
	return nil
}
