package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Schema creates the table the Postgres event logger writes to.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_events (
		id          BIGSERIAL PRIMARY KEY,
		run_id      UUID NOT NULL,
		phase       TEXT NOT NULL,
		status      TEXT NOT NULL,
		output      TEXT NOT NULL DEFAULT '',
		items       INT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		data        JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS pipeline_events_run_idx ON pipeline_events (run_id, created_at)`,
}

// Event records the outcome of one phase.
type Event struct {
	RunID     string
	Phase     Phase
	Status    string // "ok" or "failed"
	Output    string
	Items     int
	Duration  time.Duration
	Error     string
	Data      any
	CreatedAt time.Time
}

// EventLogger records phase events.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryEventLogger keeps events in memory.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{}
}

func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	if event.Phase == "" {
		return fmt.Errorf("phase is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger inserts events into pipeline_events.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.Phase == "" {
		return fmt.Errorf("phase is required")
	}
	if event.RunID == "" {
		return fmt.Errorf("run_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO pipeline_events (run_id, phase, status, output, items, duration_ms, error, data, created_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`,
		event.RunID,
		string(event.Phase),
		event.Status,
		event.Output,
		event.Items,
		event.Duration.Milliseconds(),
		event.Error,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"run_id", event.RunID,
		"phase", event.Phase,
		"status", event.Status,
	)
	return nil
}
