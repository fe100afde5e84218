package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedEnhancer serves repeated requests for identical input from redis. Only validated
// enhancements are stored; failures always reach the wrapped enhancer again.
type CachedEnhancer struct {
	next   Enhancer
	cache  *redis.Client
	model  string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedEnhancer wraps next with a redis cache keyed by model and input hash.
func NewCachedEnhancer(next Enhancer, cache *redis.Client, model string, ttl time.Duration, logger zerolog.Logger) *CachedEnhancer {
	return &CachedEnhancer{
		next:   next,
		cache:  cache,
		model:  model,
		ttl:    ttl,
		logger: logger.With().Str("component", "enhancement_cache").Logger(),
	}
}

// Enhance implements Enhancer.
func (c *CachedEnhancer) Enhance(ctx context.Context, input EnhancementInput) (Enhancement, error) {
	key := c.key(input)

	if cached, err := c.cache.Get(ctx, key).Result(); err == nil {
		var enhancement Enhancement
		if unmarshalErr := json.Unmarshal([]byte(cached), &enhancement); unmarshalErr == nil {
			c.logger.Debug().Str("student_id", input.StudentID).Msg("enhancement cache hit")
			return enhancement, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Msg("failed to read enhancement cache")
	}

	enhancement, err := c.next.Enhance(ctx, input)
	if err != nil {
		return Enhancement{}, err
	}

	payload, err := json.Marshal(enhancement)
	if err == nil {
		if err := c.cache.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to store enhancement cache")
		}
	}
	return enhancement, nil
}

func (c *CachedEnhancer) key(input EnhancementInput) string {
	hash := sha256.New()
	for _, part := range []string{c.model, input.AssignmentType, input.Language, input.ProblemStatement, Excerpt(input.SubmissionExcerpt)} {
		hash.Write([]byte(part))
		hash.Write([]byte{0})
	}
	hash.Write([]byte(strings.Join(input.DraftFeedback, "\n")))
	return "grading:enhancement:" + hex.EncodeToString(hash.Sum(nil))
}
