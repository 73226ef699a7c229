package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"digestly/pkg/domain"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// TierConfig holds the per-tier limits loaded from YAML.
type TierConfig struct {
	MonthlyAnalyses int `yaml:"monthlyAnalyses"`
	MonthlyExports  int `yaml:"monthlyExports"`
	BatchLimit      int `yaml:"batchLimit"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	// WebhookSecret authenticates transcription callbacks. It is deliberately
	// not validated at load time: an unset secret makes the webhook endpoint
	// answer 503 instead of preventing startup.
	WebhookSecret string `yaml:"webhookSecret"`

	AnalyzerURL      string `yaml:"analyzerURL"`
	AnalyzerToken    string `yaml:"analyzerToken"`
	TranscriberURL   string `yaml:"transcriberURL"`
	TranscriberToken string `yaml:"transcriberToken"`
	ScraperURL       string `yaml:"scraperURL"`

	JWKSURL       string `yaml:"jwksURL"`
	TokenIssuer   string `yaml:"tokenIssuer"`
	TokenAudience string `yaml:"tokenAudience"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	TrustedProxies     []string `yaml:"trustedProxies"`

	DefaultTier string                `yaml:"defaultTier"`
	Tiers       map[string]TierConfig `yaml:"tiers"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DIGESTLY_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("DIGESTLY_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("DIGESTLY_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("DIGESTLY_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("DIGESTLY_QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("TRANSCRIPTION_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("DIGESTLY_ANALYZER_URL"); v != "" {
		cfg.AnalyzerURL = v
	}
	if v := os.Getenv("DIGESTLY_ANALYZER_TOKEN"); v != "" {
		cfg.AnalyzerToken = v
	}
	if v := os.Getenv("DIGESTLY_TRANSCRIBER_URL"); v != "" {
		cfg.TranscriberURL = v
	}
	if v := os.Getenv("DIGESTLY_TRANSCRIBER_TOKEN"); v != "" {
		cfg.TranscriberToken = v
	}
	if v := os.Getenv("DIGESTLY_SCRAPER_URL"); v != "" {
		cfg.ScraperURL = v
	}
	if v := os.Getenv("DIGESTLY_JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AMQP_EXCHANGE"); v != "" {
		cfg.AMQPExchange = v
	}
	if v := os.Getenv("DIGESTLY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("DIGESTLY_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TierProfile resolves a tier name to its limits. Unknown or empty names fall
// back to the configured default tier, and finally to a restrictive free tier.
func (c FileConfig) TierProfile(name string) domain.TierProfile {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.DefaultTier
	}
	if tier, ok := c.Tiers[name]; ok {
		return domain.TierProfile{
			Name:            name,
			MonthlyAnalyses: tier.MonthlyAnalyses,
			MonthlyExports:  tier.MonthlyExports,
			BatchLimit:      tier.BatchLimit,
		}
	}
	if tier, ok := c.Tiers[c.DefaultTier]; ok {
		return domain.TierProfile{
			Name:            c.DefaultTier,
			MonthlyAnalyses: tier.MonthlyAnalyses,
			MonthlyExports:  tier.MonthlyExports,
			BatchLimit:      tier.BatchLimit,
		}
	}
	return domain.TierProfile{Name: "free", MonthlyAnalyses: 5, MonthlyExports: 2, BatchLimit: 3}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.AnalyzerURL == "" {
		return errors.New("config: analyzerURL is required (set in config.yaml or DIGESTLY_ANALYZER_URL)")
	}
	if cfg.TranscriberURL == "" {
		return errors.New("config: transcriberURL is required (set in config.yaml or DIGESTLY_TRANSCRIBER_URL)")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or DIGESTLY_JWKS_URL)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required (set in config.yaml or MINIO_ENDPOINT/MINIO_BUCKET)")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.QueueConcurrency < 0 {
		return errors.New("config: queueConcurrency must be >= 0")
	}
	for name, tier := range cfg.Tiers {
		if tier.MonthlyAnalyses < 0 || tier.MonthlyExports < 0 || tier.BatchLimit < 0 {
			return fmt.Errorf("config: tier %q limits must be >= 0", name)
		}
	}
	if cfg.DefaultTier != "" {
		if _, ok := cfg.Tiers[cfg.DefaultTier]; !ok {
			return fmt.Errorf("config: defaultTier %q is not defined under tiers", cfg.DefaultTier)
		}
	}
	return nil
}
