package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Enhancement string    `json:"enhancement"`
	Persistence bool      `json:"persistence"`
}

// HealthCheck returns a handler that reports application health and which optional
// integrations are active.
func HealthCheck(cfg config.Config) fiber.Handler {
	enhancement := "disabled"
	if cfg.AIEnabled && cfg.OpenAIAPIKey != "" {
		enhancement = "enabled"
	}
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Enhancement: enhancement,
			Persistence: cfg.DatabaseURL != "",
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
