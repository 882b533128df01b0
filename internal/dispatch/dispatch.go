// Package dispatch forwards persisted notifications to Kafka so downstream
// delivery channels (push, e-mail) can pick them up. Dispatch is best
// effort: the notification document is already the source of truth.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"checkline/internal/compliance/models"
	"checkline/pkg/platform/circuit"
)

const defaultProbeInterval = 30 * time.Second

// Producer is the subset of *kgo.Client used here.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Event is the record value written per notification.
type Event struct {
	NotificationID       string    `json:"notificationId"`
	UserID               string    `json:"userId"`
	CompletedChecklistID string    `json:"completedChecklistId"`
	Message              string    `json:"message"`
	Timestamp            time.Time `json:"timestamp"`
}

// Kafka publishes one record per notification, keyed by recipient. After
// repeated failures the breaker opens and records are only logged; one
// probe per interval is still attempted so the breaker can close again.
type Kafka struct {
	producer      Producer
	topic         string
	breaker       *circuit.Breaker
	probeInterval time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	mu        sync.Mutex
	lastProbe time.Time
	now       func() time.Time
}

type Option func(*Kafka)

func WithBreaker(b *circuit.Breaker) Option {
	return func(k *Kafka) {
		k.breaker = b
	}
}

func WithProbeInterval(d time.Duration) Option {
	return func(k *Kafka) {
		k.probeInterval = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(k *Kafka) {
		k.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(k *Kafka) {
		k.metrics = m
	}
}

func NewKafka(producer Producer, topic string, opts ...Option) *Kafka {
	k := &Kafka{
		producer:      producer,
		topic:         topic,
		breaker:       circuit.New("notification-dispatch"),
		probeInterval: defaultProbeInterval,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Dispatch publishes n. Failures are absorbed once the breaker is open.
func (k *Kafka) Dispatch(ctx context.Context, n models.Notification) error {
	if k.breaker.IsOpen() && !k.probeDue() {
		k.metrics.inc("skipped")
		k.logger.InfoContext(ctx, "notification dispatch skipped, breaker open",
			"notification_id", n.ID,
			"recipient", n.UserID,
		)
		return nil
	}

	value, err := json.Marshal(Event{
		NotificationID:       n.ID,
		UserID:               n.UserID,
		CompletedChecklistID: n.CompletedChecklistID,
		Message:              n.Message,
		Timestamp:            n.Timestamp.UTC(),
	})
	if err != nil {
		return err
	}

	record := &kgo.Record{Topic: k.topic, Key: []byte(n.UserID), Value: value}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		useFallback, change := k.breaker.RecordFailure()
		if change.Opened {
			k.logger.WarnContext(ctx, "notification dispatch breaker opened", "breaker", k.breaker.Name())
		}
		k.metrics.inc("failed")
		if useFallback {
			k.logger.WarnContext(ctx, "notification dispatch failed, degraded to log",
				"notification_id", n.ID,
				"recipient", n.UserID,
				"error", err,
			)
			return nil
		}
		return err
	}

	if _, change := k.breaker.RecordSuccess(); change.Closed {
		k.logger.InfoContext(ctx, "notification dispatch breaker closed", "breaker", k.breaker.Name())
	}
	k.metrics.inc("published")
	return nil
}

func (k *Kafka) probeDue() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	if now.Sub(k.lastProbe) < k.probeInterval {
		return false
	}
	k.lastProbe = now
	return true
}

// Log is the dispatcher used when no broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Dispatch(ctx context.Context, n models.Notification) error {
	l.logger.InfoContext(ctx, "notification created",
		"notification_id", n.ID,
		"recipient", n.UserID,
		"completed_checklist_id", n.CompletedChecklistID,
	)
	return nil
}
