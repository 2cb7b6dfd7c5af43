package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix               = "COMPASS"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = "sqlite"
	defaultDatabasePath     = "compass.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 30
	defaultInferenceBaseURL = "https://api.openai.com/v1"
	defaultInferenceModel   = "gpt-4o-mini"
	defaultInferenceTimeout = 25
	defaultRetryAttempts    = 1
	defaultPredictionWindow = 30
	defaultDigestWindow     = 7
	defaultDigestType       = "weekly"
	defaultDigestActorID    = "digest-scheduler"
	defaultPairTimeout      = 60
	defaultNotifyDriver     = "log"
	defaultNotifyFrom       = "Compass <digest@compass.local>"
	defaultSMTPPort         = 587
	defaultGuardTTLHours    = 192
)

// AppConfig captures runtime configuration for the API server and CLI commands.
type AppConfig struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Prediction PredictionConfig `mapstructure:"prediction"`
	Digest     DigestConfig     `mapstructure:"digest"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Guard      GuardConfig      `mapstructure:"guard"`
}

type HTTPConfig struct {
	Address        string   `mapstructure:"address" validate:"required"`
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"dive,url"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite mysql"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver mysql"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	File  string `mapstructure:"file"`
}

type AuthConfig struct {
	SigningSecret   string `mapstructure:"signing_secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes" validate:"gte=1"`
}

// InferenceConfig describes the primary model endpoint. An empty APIKey leaves
// the engine on its rule-based strategy.
type InferenceConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	Model          string `mapstructure:"model" validate:"required"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"gte=1"`
	RetryAttempts  int    `mapstructure:"retry_attempts" validate:"gte=0,lte=5"`
}

type PredictionConfig struct {
	WindowDays int `mapstructure:"window_days" validate:"gte=1"`
}

type DigestConfig struct {
	WindowDays         int    `mapstructure:"window_days" validate:"gte=1"`
	Type               string `mapstructure:"type" validate:"required"`
	Concurrency        int    `mapstructure:"concurrency" validate:"gte=1"`
	PairTimeoutSeconds int    `mapstructure:"pair_timeout_seconds" validate:"gte=1"`
	ActorID            string `mapstructure:"actor_id" validate:"required"`
}

type NotifyConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=log smtp webhook"`
	From   string `mapstructure:"from" validate:"required"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type WebhookConfig struct {
	URL   string `mapstructure:"url" validate:"omitempty,url"`
	Token string `mapstructure:"token"`
}

// RedisConfig enables the digest send guard when Address is set.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type GuardConfig struct {
	TTLHours int `mapstructure:"ttl_hours" validate:"gte=1"`
}

func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c DigestConfig) PairTimeout() time.Duration {
	return time.Duration(c.PairTimeoutSeconds) * time.Second
}

func (c GuardConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
// Every key gets a default so that Unmarshal sees env-only values.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("inference.api_key", "")
	configViper.SetDefault("inference.base_url", defaultInferenceBaseURL)
	configViper.SetDefault("inference.model", defaultInferenceModel)
	configViper.SetDefault("inference.timeout_seconds", defaultInferenceTimeout)
	configViper.SetDefault("inference.retry_attempts", defaultRetryAttempts)
	configViper.SetDefault("prediction.window_days", defaultPredictionWindow)
	configViper.SetDefault("digest.window_days", defaultDigestWindow)
	configViper.SetDefault("digest.type", defaultDigestType)
	configViper.SetDefault("digest.concurrency", 1)
	configViper.SetDefault("digest.pair_timeout_seconds", defaultPairTimeout)
	configViper.SetDefault("digest.actor_id", defaultDigestActorID)
	configViper.SetDefault("notify.driver", defaultNotifyDriver)
	configViper.SetDefault("notify.from", defaultNotifyFrom)
	configViper.SetDefault("smtp.host", "")
	configViper.SetDefault("smtp.port", defaultSMTPPort)
	configViper.SetDefault("smtp.username", "")
	configViper.SetDefault("smtp.password", "")
	configViper.SetDefault("webhook.url", "")
	configViper.SetDefault("webhook.token", "")
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("guard.ttl_hours", defaultGuardTTLHours)
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !isNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses and validates runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	if configViper.ConfigFileUsed() != "" {
		if err := configViper.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("configuration file found but could not be read: %w", err)
		}
	}

	var cfg AppConfig
	if err := configViper.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("invalid configuration format: %w", err)
	}
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c *AppConfig) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Notify.Driver = strings.ToLower(strings.TrimSpace(c.Notify.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Inference.APIKey = strings.TrimSpace(c.Inference.APIKey)
	c.Redis.Address = strings.TrimSpace(c.Redis.Address)
}

func (c AppConfig) validate() error {
	validate, translator, err := newValidator()
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	var messages []string
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return err
		}
		messages = append(messages, translateAll(validationErrors, translator)...)
	}

	switch c.Notify.Driver {
	case "smtp":
		if strings.TrimSpace(c.SMTP.Host) == "" {
			messages = append(messages, "smtp.host is required when notify.driver is smtp")
		}
	case "webhook":
		if strings.TrimSpace(c.Webhook.URL) == "" {
			messages = append(messages, "webhook.url is required when notify.driver is webhook")
		}
	}

	if len(messages) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(messages, ", "))
	}
	return nil
}

// RequireSigningSecret reports whether the HTTP surface can authenticate requests.
func (c AppConfig) RequireSigningSecret() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return nil
}

func translateAll(validationErrors validator.ValidationErrors, translator ut.Translator) []string {
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		field := strings.TrimPrefix(fieldError.Namespace(), "AppConfig.")
		messages = append(messages, fmt.Sprintf("%s: %s", field, fieldError.Translate(translator)))
	}
	return messages
}
