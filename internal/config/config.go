package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig satu AI provider
type ProviderConfig struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"` // openai | gemini
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`
	BaseURL  string `yaml:"baseURL"`
	Priority int    `yaml:"priority"`
}

type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"corsOrigins"`
		RateLimit   struct {
			RequestsPerMinute int `yaml:"requestsPerMinute"`
			Burst             int `yaml:"burst"`
		} `yaml:"rateLimit"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // postgres | mysql
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Knowledge struct {
		Enabled        bool          `yaml:"enabled"`
		MatchThreshold float64       `yaml:"matchThreshold"`
		MatchCount     int           `yaml:"matchCount"`
		EmbeddingModel string        `yaml:"embeddingModel"`
		CacheTTL       time.Duration `yaml:"cacheTTL"`
		CacheSize      int           `yaml:"cacheSize"`
	} `yaml:"knowledge"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Providers struct {
		Timeout time.Duration    `yaml:"timeout"`
		List    []ProviderConfig `yaml:"list"`
	} `yaml:"providers"`

	Pipeline struct {
		MaxCandidates      int           `yaml:"maxCandidates"`
		StalenessThreshold time.Duration `yaml:"stalenessThreshold"`
		FailureThreshold   time.Duration `yaml:"failureThreshold"`
		SweepInterval      time.Duration `yaml:"sweepInterval"`
		SystemPrompt       string        `yaml:"systemPrompt"`
	} `yaml:"pipeline"`

	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"` // tenant -> key
		OpsKey  string            `yaml:"opsKey"`
	} `yaml:"auth"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | text
	} `yaml:"log"`
}

// Load baca file config.yaml, isi default, override secret dari env, lalu validasi
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, os.Getenv)
}

// Parse is Load without the filesystem; getenv may be nil.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if getenv != nil {
		cfg.applyEnv(getenv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := getenv("MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
	for i := range c.Providers.List {
		p := &c.Providers.List[i]
		if p.APIKey != "" {
			continue
		}
		switch p.Kind {
		case "openai":
			p.APIKey = getenv("OPENAI_API_KEY")
		case "gemini":
			p.APIKey = getenv("GEMINI_API_KEY")
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 60
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 10
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Port == 0 {
		if c.Database.Driver == "mysql" {
			c.Database.Port = 3306
		} else {
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Knowledge.MatchThreshold == 0 {
		c.Knowledge.MatchThreshold = 0.3
	}
	if c.Knowledge.MatchCount == 0 {
		c.Knowledge.MatchCount = 5
	}
	if c.Knowledge.CacheTTL == 0 {
		c.Knowledge.CacheTTL = 10 * time.Minute
	}
	if c.Knowledge.CacheSize == 0 {
		c.Knowledge.CacheSize = 256
	}
	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = 90 * time.Second
	}
	for i := range c.Providers.List {
		p := &c.Providers.List[i]
		if p.Kind == "" {
			p.Kind = p.ID
		}
		if p.Priority == 0 {
			p.Priority = i + 1
		}
	}
	if c.Pipeline.MaxCandidates == 0 {
		c.Pipeline.MaxCandidates = 3
	}
	if c.Pipeline.StalenessThreshold == 0 {
		c.Pipeline.StalenessThreshold = 10 * time.Minute
	}
	if c.Pipeline.FailureThreshold == 0 {
		c.Pipeline.FailureThreshold = time.Hour
	}
	if c.Pipeline.SweepInterval == 0 {
		c.Pipeline.SweepInterval = 5 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Driver != "postgres" && c.Database.Driver != "mysql" {
		errs = append(errs, fmt.Errorf("database.driver %q must be postgres or mysql", c.Database.Driver))
	}
	if c.Knowledge.MatchThreshold < 0 || c.Knowledge.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("knowledge.matchThreshold %v outside [0,1]", c.Knowledge.MatchThreshold))
	}
	if c.Knowledge.MatchCount < 0 {
		errs = append(errs, fmt.Errorf("knowledge.matchCount must be positive"))
	}
	if c.Providers.Timeout < 0 {
		errs = append(errs, fmt.Errorf("providers.timeout must be positive"))
	}
	if len(c.Providers.List) == 0 {
		errs = append(errs, errors.New("providers.list is empty"))
	}
	seen := map[string]bool{}
	for i, p := range c.Providers.List {
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, fmt.Errorf("providers.list[%d].id is empty", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("providers.list[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if p.Kind != "openai" && p.Kind != "gemini" {
			errs = append(errs, fmt.Errorf("providers.list[%d]: unknown kind %q", i, p.Kind))
		}
	}
	if c.Pipeline.MaxCandidates < 0 {
		errs = append(errs, fmt.Errorf("pipeline.maxCandidates must be positive"))
	}
	if c.Pipeline.StalenessThreshold < 0 {
		errs = append(errs, fmt.Errorf("pipeline.stalenessThreshold must be positive"))
	}
	if c.Pipeline.FailureThreshold <= c.Pipeline.StalenessThreshold {
		errs = append(errs, fmt.Errorf("pipeline.failureThreshold %s must exceed stalenessThreshold %s",
			c.Pipeline.FailureThreshold, c.Pipeline.StalenessThreshold))
	}
	// a run still waiting on its providers must not look stuck to the sweeper
	if c.Providers.Timeout >= c.Pipeline.StalenessThreshold {
		errs = append(errs, fmt.Errorf("providers.timeout %s must be below pipeline.stalenessThreshold %s",
			c.Providers.Timeout, c.Pipeline.StalenessThreshold))
	}
	return errors.Join(errs...)
}

// SortedProviders returns providers by ascending priority, stable.
func (c *Config) SortedProviders() []ProviderConfig {
	list := append([]ProviderConfig(nil), c.Providers.List...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	return list
}

// ArchiveEnabled reports whether raw provider output goes to MinIO.
func (c *Config) ArchiveEnabled() bool { return c.Minio.Endpoint != "" && c.Minio.BucketName != "" }

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres (lib/pq URL form)
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": []string{c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}
