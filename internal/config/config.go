package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

// ErrMissingJWTSecret is returned by RequireJWT when the API cannot authenticate callers.
var ErrMissingJWTSecret = errors.New("jwt secret must be provided")

// Config holds runtime configuration values. It is read once at start-up and passed by value.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	EventSubject           string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	AIEnabled              bool
	AIProvider             string
	OpenAIAPIKey           string
	AIModel                string
	AIBaseURL              string
	AITimeout              time.Duration
	AICacheTTL             time.Duration
	Grading                grading.Policy
	Workers                int
	AllowedExtensions      []string
	MaxFileBytes           int64
	ExportDir              string
	RubricPath             string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// GradingPolicy returns the validated analyzer and curve thresholds.
func (c Config) GradingPolicy() grading.Policy {
	return c.Grading
}

// AIConfig returns the enhancer configuration.
func (c Config) AIConfig() ai.Config {
	return ai.Config{
		Enabled:  c.AIEnabled,
		Provider: c.AIProvider,
		APIKey:   c.OpenAIAPIKey,
		Model:    c.AIModel,
		BaseURL:  c.AIBaseURL,
		Timeout:  c.AITimeout,
		CacheTTL: c.AICacheTTL,
	}
}

// RequireJWT fails when the HTTP service would run without a signing secret.
func (c Config) RequireJWT() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	defaults := grading.DefaultPolicy()
	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("nats.subject", "grading.batch.completed")
	v.SetDefault("cloudinary.folder", "gema/reports")
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout_ms", 8000)
	v.SetDefault("ai.cache_ttl", "24h")
	v.SetDefault("grading.low_relevance", defaults.LowRelevance)
	v.SetDefault("grading.high_similarity", defaults.HighSimilarity)
	v.SetDefault("grading.gate_cap", defaults.GateCap)
	v.SetDefault("grading.copy_cap", defaults.CopyCap)
	v.SetDefault("grading.full_credit_relevance", defaults.FullCreditRelevance)
	v.SetDefault("grading.boost_factor", defaults.BoostFactor)
	v.SetDefault("grading.curve_threshold", defaults.CurveThreshold)
	v.SetDefault("grading.min_words", defaults.MinWords)
	v.SetDefault("grading.workers", 4)
	v.SetDefault("ingest.allowed_extensions", ".py,.cpp,.cc,.cxx,.h,.hpp,.c,.txt,.md")
	v.SetDefault("ingest.max_file_mb", 2)
	v.SetDefault("export.dir", "./outputs")

	ttl, err := time.ParseDuration(v.GetString("ai.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid ai cache ttl: %w", err)
	}

	timeoutMs := v.GetInt("ai.timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 8000
	}

	policy := grading.Policy{
		LowRelevance:        v.GetFloat64("grading.low_relevance"),
		HighSimilarity:      v.GetFloat64("grading.high_similarity"),
		GateCap:             v.GetFloat64("grading.gate_cap"),
		CopyCap:             v.GetFloat64("grading.copy_cap"),
		FullCreditRelevance: v.GetFloat64("grading.full_credit_relevance"),
		BoostFactor:         v.GetFloat64("grading.boost_factor"),
		CurveThreshold:      v.GetFloat64("grading.curve_threshold"),
		MinWords:            v.GetInt("grading.min_words"),
	}
	if err := policy.Validate(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		EventSubject:           v.GetString("nats.subject"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		AIEnabled:              v.GetBool("ai.enabled"),
		AIProvider:             strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		AIModel:                v.GetString("ai.model"),
		AIBaseURL:              v.GetString("ai.base_url"),
		AITimeout:              time.Duration(timeoutMs) * time.Millisecond,
		AICacheTTL:             ttl,
		Grading:                policy,
		Workers:                v.GetInt("grading.workers"),
		AllowedExtensions:      splitList(v.GetString("ingest.allowed_extensions")),
		MaxFileBytes:           int64(v.GetFloat64("ingest.max_file_mb") * 1024 * 1024),
		ExportDir:              v.GetString("export.dir"),
		RubricPath:             v.GetString("rubric.path"),
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 2 * 1024 * 1024
	}

	return cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if !strings.HasPrefix(item, ".") {
			item = "." + item
		}
		out = append(out, item)
	}
	return out
}
