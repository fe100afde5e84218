package ai

import (
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewEnhancer selects the enhancer for cfg. It never fails: anything that prevents a real
// provider from being used yields a Disabled enhancer and a log line.
func NewEnhancer(cfg Config, cache *redis.Client, logger zerolog.Logger) Enhancer {
	log := logger.With().Str("component", "feedback_enhancer").Logger()
	if !cfg.Enabled {
		log.Info().Msg("feedback enhancement disabled")
		return Disabled{}
	}

	var enhancer Enhancer
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		openaiEnhancer, err := NewOpenAIEnhancer(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Logger:      log,
		})
		if err != nil {
			log.Warn().Err(err).Msg("feedback enhancement disabled")
			return Disabled{Reason: err.Error()}
		}
		enhancer = openaiEnhancer
	default:
		log.Warn().Str("provider", cfg.Provider).Msg("unsupported ai provider; feedback enhancement disabled")
		return Disabled{Reason: "unsupported provider " + cfg.Provider}
	}

	if cache != nil && cfg.CacheTTL > 0 {
		enhancer = NewCachedEnhancer(enhancer, cache, cfg.Model, cfg.CacheTTL, log)
	}
	return enhancer
}
