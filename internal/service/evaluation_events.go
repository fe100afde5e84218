package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// BatchCompletedEvent is published once per evaluated batch.
type BatchCompletedEvent struct {
	RunID               string    `json:"run_id"`
	AssignmentType      string    `json:"assignment_type"`
	StudentCount        int       `json:"student_count"`
	RejectedCount       int       `json:"rejected_count"`
	EnhancementFailures int       `json:"enhancement_failures"`
	MeanFinalScore      float64   `json:"mean_final_score"`
	SummaryURL          string    `json:"summary_url,omitempty"`
	DetailedURL         string    `json:"detailed_url,omitempty"`
	CompletedAt         time.Time `json:"completed_at"`
}

// EventPublisher notifies downstream consumers about finished batches.
type EventPublisher interface {
	PublishBatchCompleted(ctx context.Context, event BatchCompletedEvent) error
}

// ReportStorage keeps a durable copy of exported CSV reports and returns their URLs.
type ReportStorage interface {
	UploadReport(ctx context.Context, runID, name string, reader io.Reader) (string, error)
}

// NATSEventPublisher publishes batch events as JSON on a NATS subject.
type NATSEventPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSEventPublisher constructs a publisher bound to subject.
func NewNATSEventPublisher(conn *nats.Conn, subject string, logger zerolog.Logger) *NATSEventPublisher {
	return &NATSEventPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "evaluation_events").Logger(),
	}
}

// PublishBatchCompleted encodes and publishes the event, then flushes so failures surface here.
func (p *NATSEventPublisher) PublishBatchCompleted(ctx context.Context, event BatchCompletedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode batch event: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish batch event: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush batch event: %w", err)
	}
	p.logger.Info().Str("run_id", event.RunID).Str("subject", p.subject).Msg("batch completion published")
	return nil
}

// LogEventPublisher only logs events. It is used when no broker is configured.
type LogEventPublisher struct {
	logger zerolog.Logger
}

// NewLogEventPublisher constructs a logging publisher.
func NewLogEventPublisher(logger zerolog.Logger) *LogEventPublisher {
	return &LogEventPublisher{logger: logger.With().Str("component", "evaluation_events").Logger()}
}

// PublishBatchCompleted logs the event and returns nil.
func (l *LogEventPublisher) PublishBatchCompleted(ctx context.Context, event BatchCompletedEvent) error {
	l.logger.Info().
		Str("run_id", event.RunID).
		Int("students", event.StudentCount).
		Float64("mean_final_score", event.MeanFinalScore).
		Msg("batch completed")
	return nil
}
