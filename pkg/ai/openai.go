package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxReplyItems  = 5
	maxReplyLength = 600
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "enhancement_duration_seconds",
		Help:      "Duration of AI feedback enhancement requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "enhancement_failures_total",
		Help:      "Number of AI feedback enhancement failures",
	}, []string{"model", "reason"})
)

var replyPolicy = bluemonday.StrictPolicy()

// OpenAIConfig defines configuration options for the OpenAI enhancer.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// OpenAIEnhancer implements Enhancer against the OpenAI chat completion API.
type OpenAIEnhancer struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIEnhancer builds a new enhancer using the provided configuration.
func NewOpenAIEnhancer(cfg OpenAIConfig) (*OpenAIEnhancer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 700
	}

	tracer := otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAIEnhancer{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Enhance sends the draft feedback to OpenAI and validates the structured reply.
func (e *OpenAIEnhancer) Enhance(parent context.Context, input EnhancementInput) (Enhancement, error) {
	ctx, span := e.tracer.Start(parent, "openai.enhance", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.String("student_id", input.StudentID),
	))
	defer span.End()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	request := openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: enhancerSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	if isReasoningModel(e.cfg.Model) {
		request.MaxCompletionTokens = e.cfg.MaxTokens
		request.Temperature = 0
	} else {
		request.MaxTokens = e.cfg.MaxTokens
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return Enhancement{}, e.fail(span, "request", fmt.Errorf("openai enhance: %w", err))
	}

	if len(resp.Choices) == 0 {
		return Enhancement{}, e.fail(span, "empty", errors.New("no choices returned from openai"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	enhancement, err := ParseReply(content)
	if err != nil {
		return Enhancement{}, e.fail(span, "malformed", err)
	}

	span.SetAttributes(attribute.Int("usage.total_tokens", resp.Usage.TotalTokens))
	return enhancement, nil
}

func (e *OpenAIEnhancer) fail(span trace.Span, reason string, err error) error {
	aiFailures.WithLabelValues(e.cfg.Model, reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func enhancerSystemPrompt() string {
	return "You are a teaching assistant reviewing automated feedback on a student submission. " +
		"Do not assign, change or mention any score or grade. Respond with a JSON object with exactly three keys: " +
		"summary (string, at most three sentences), corrections (array of short strings) and strengths (array of short strings)."
}

func buildUserPrompt(input EnhancementInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Problem Statement\n")
	builder.WriteString(input.ProblemStatement)
	builder.WriteString("\n\n## Assignment Type\n")
	builder.WriteString(input.AssignmentType)
	if input.Language != "" {
		builder.WriteString("\n\n## Language\n")
		builder.WriteString(input.Language)
	}
	builder.WriteString("\n\n## Submission Excerpt\n")
	builder.WriteString(Excerpt(input.SubmissionExcerpt))
	builder.WriteString("\n\n## Draft Feedback\n")
	for _, line := range input.DraftFeedback {
		builder.WriteString("- ")
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

// ParseReply validates a model reply. Anything other than exactly summary, corrections and
// strengths is rejected as ErrUnavailable.
func ParseReply(content string) (Enhancement, error) {
	type payload struct {
		Summary     *string   `json:"summary"`
		Corrections *[]string `json:"corrections"`
		Strengths   *[]string `json:"strengths"`
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(content)))
	decoder.DisallowUnknownFields()
	var data payload
	if err := decoder.Decode(&data); err != nil {
		return Enhancement{}, fmt.Errorf("%w: parse enhancement json: %v", ErrUnavailable, err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Enhancement{}, fmt.Errorf("%w: trailing data after enhancement json", ErrUnavailable)
	}
	if data.Summary == nil || data.Corrections == nil || data.Strengths == nil {
		return Enhancement{}, fmt.Errorf("%w: enhancement reply is missing a field", ErrUnavailable)
	}

	summary := sanitize(*data.Summary)
	if summary == "" {
		return Enhancement{}, fmt.Errorf("%w: enhancement summary is empty", ErrUnavailable)
	}

	return Enhancement{
		Summary:     summary,
		Corrections: sanitizeList(*data.Corrections),
		Strengths:   sanitizeList(*data.Strengths),
	}, nil
}

func sanitize(value string) string {
	clean := strings.Join(strings.Fields(html.UnescapeString(replyPolicy.Sanitize(value))), " ")
	if runes := []rune(clean); len(runes) > maxReplyLength {
		clean = string(runes[:maxReplyLength])
	}
	return clean
}

func sanitizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if clean := sanitize(value); clean != "" {
			out = append(out, clean)
		}
		if len(out) == maxReplyItems {
			break
		}
	}
	return out
}
