package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/realcheck/internal/middleware"
)

type Config struct {
	Server struct {
		Port        int               `yaml:"port"`
		CORSOrigins []string          `yaml:"corsOrigins"`
		APIKeys     map[string]string `yaml:"apiKeys"` // requestor -> key
		RateLimit   struct {
			Capacity   int `yaml:"capacity"`
			RefillRate int `yaml:"refillRate"`
		} `yaml:"rateLimit"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // postgres | mysql | memory
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Staging struct {
		Driver string `yaml:"driver"` // minio | filesystem
		Dir    string `yaml:"dir"`
	} `yaml:"staging"`

	Scoring struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"scoring"`

	OpenAI struct {
		APIKey  string        `yaml:"apiKey"`
		Model   string        `yaml:"model"`
		BaseURL string        `yaml:"baseURL"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"openai"`

	Queue struct {
		MaxRetries        int           `yaml:"maxRetries"`
		ProcessingTimeout time.Duration `yaml:"processingTimeout"`
		ReclaimInterval   time.Duration `yaml:"reclaimInterval"`
		Workers           int           `yaml:"workers"`
		PollInterval      time.Duration `yaml:"pollInterval"`
		DefaultPriority   int           `yaml:"defaultPriority"`
		EmbeddedWorker    bool          `yaml:"embeddedWorker"` // run the pool inside cmd/api
	} `yaml:"queue"`

	Upload struct {
		MaxBytes int64 `yaml:"maxBytes"`
	} `yaml:"upload"`
}

// Default returns a config that runs fully in memory on :8080.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Server.CORSOrigins = []string{"*"}
	c.Server.RateLimit.Capacity = 60
	c.Server.RateLimit.RefillRate = 1
	c.Database.Driver = "memory"
	c.Database.SSLMode = "disable"
	c.Minio.BucketName = "realcheck"
	c.Staging.Driver = "filesystem"
	c.Staging.Dir = "data/staging"
	c.Scoring.URL = "http://localhost:8001"
	c.Scoring.Timeout = 30 * time.Second
	c.OpenAI.Model = "gpt-4o-mini"
	c.OpenAI.Timeout = 10 * time.Second
	c.Queue.MaxRetries = 3
	c.Queue.ProcessingTimeout = 5 * time.Minute
	c.Queue.ReclaimInterval = 30 * time.Second
	c.Queue.Workers = 4
	c.Queue.PollInterval = time.Second
	c.Queue.EmbeddedWorker = true
	c.Upload.MaxBytes = 10 << 20
	return &c
}

// Load baca .env (kalau ada), lalu config.yaml di atas default, lalu env override.
// File yang tidak ada bukan error; defaults + env cukup untuk jalan.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Database.Driver, "DATABASE_DRIVER")
	set(&c.Database.DSN, "DATABASE_DSN")
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	set(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	set(&c.Scoring.URL, "SCORING_URL")
}

// Validate rejects settings the queue cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "mysql", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not supported", c.Database.Driver))
	}
	switch c.Staging.Driver {
	case "minio", "filesystem":
	default:
		errs = append(errs, fmt.Errorf("staging.driver %q not supported", c.Staging.Driver))
	}
	if c.Staging.Driver == "filesystem" && c.Staging.Dir == "" {
		errs = append(errs, errors.New("staging.dir is required for filesystem staging"))
	}
	if c.Queue.MaxRetries <= 0 {
		errs = append(errs, errors.New("queue.maxRetries must be positive"))
	}
	if c.Queue.ProcessingTimeout <= 0 || c.Queue.ReclaimInterval <= 0 || c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue timeouts and intervals must be positive"))
	}
	if c.Queue.Workers <= 0 {
		errs = append(errs, errors.New("queue.workers must be positive"))
	}
	if c.Scoring.Timeout <= 0 || c.OpenAI.Timeout <= 0 {
		errs = append(errs, errors.New("scoring and openai timeouts must be positive"))
	}
	if _, err := url.ParseRequestURI(c.Scoring.URL); err != nil {
		errs = append(errs, fmt.Errorf("scoring.url: %w", err))
	}
	if c.OpenAI.Timeout > c.Scoring.Timeout {
		errs = append(errs, errors.New("openai.timeout must not exceed scoring.timeout"))
	}
	if c.Queue.ProcessingTimeout <= c.Scoring.Timeout+c.OpenAI.Timeout {
		errs = append(errs, fmt.Errorf("queue.processingTimeout (%s) must exceed scoring + openai timeouts (%s)",
			c.Queue.ProcessingTimeout, c.Scoring.Timeout+c.OpenAI.Timeout))
	}
	for requestor, key := range c.Server.APIKeys {
		if err := middleware.ValidateRequestorID(requestor); err != nil {
			errs = append(errs, fmt.Errorf("server.apiKeys[%q]: %w", requestor, err))
		}
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Errorf("server.apiKeys[%q]: key is empty", requestor))
		}
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.maxBytes must be positive"))
	}
	return errors.Join(errs...)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL DSN.
func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	sslmode := c.Database.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + strings.TrimPrefix(c.Database.Name, "/"),
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String()
}
