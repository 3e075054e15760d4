// Package consumer reads evaluation change events from Kafka and applies
// them to the comment index.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/validator"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/Hikikomori041/m2-projetweb/pkg/kafka"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
	"github.com/Hikikomori041/m2-projetweb/pkg/metrics"
	"github.com/Hikikomori041/m2-projetweb/pkg/resilience"
)

// Event types published by the application when an evaluation changes.
const (
	EventSaved   = "saved"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EvaluationEvent is the payload of the evaluation-events topic. When ID
// is empty the message key is used.
type EvaluationEvent struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Comment    string    `json:"comment"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Indexer is the write side of the comment index.
type Indexer interface {
	IndexDocument(ctx context.Context, id, comment string) error
	ReplaceDocument(ctx context.Context, id, comment string) error
	DeleteDocument(ctx context.Context, id string) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

func (ic *IndexConsumer) Close() error {
	return ic.consumer.Close()
}

// HandleMessage returns a Kafka MessageHandler applying evaluation events
// to idx. Malformed events are logged and acknowledged. Index failures are
// retried with backoff; once retries are exhausted the error is returned
// and the offset stays uncommitted. m may be nil.
func HandleMessage(idx Indexer, m *metrics.Metrics, retry resilience.RetryConfig) kafka.MessageHandler {
	log := logger.WithComponent("index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[EvaluationEvent](value)
		if err != nil {
			log.Error("failed to decode evaluation event",
				"error", err,
				"key", string(key),
			)
			observe(m, "unknown", "invalid")
			return nil
		}
		if event.ID == "" {
			event.ID = string(key)
		}
		if err := validateEvent(event); err != nil {
			log.Error("rejecting evaluation event", "type", event.Type, "error", err)
			observe(m, event.Type, "invalid")
			return nil
		}

		ctx = logger.WithRequestID(ctx, fmt.Sprintf("kafka-%s-%s", event.Type, event.ID))
		err = resilience.Retry(ctx, "apply-"+event.Type, retry, func() error {
			return permanentIfInvalid(apply(ctx, idx, event))
		})
		switch {
		case errors.Is(err, errUnknownType):
			log.Warn("ignoring evaluation event", "type", event.Type, "doc_id", event.ID)
			observe(m, event.Type, "ignored")
			return nil
		case errors.Is(err, apperrors.ErrInvalidInput):
			log.Error("rejecting evaluation event", "type", event.Type, "doc_id", event.ID, "error", err)
			observe(m, event.Type, "invalid")
			return nil
		case err != nil:
			observe(m, event.Type, "error")
			return fmt.Errorf("applying %s event for %s: %w", event.Type, event.ID, err)
		}
		observe(m, event.Type, "ok")
		log.Info("evaluation event applied", "type", event.Type, "doc_id", event.ID)
		return nil
	}
}

var errUnknownType = errors.New("unknown event type")

// validateEvent checks the whole document for events carrying a comment
// and only the id for deletions.
func validateEvent(event EvaluationEvent) error {
	switch event.Type {
	case EventSaved, EventUpdated:
		return validator.ValidateDocument(index.Document{ID: event.ID, Comment: event.Comment})
	default:
		return validator.ValidateID(event.ID)
	}
}

func apply(ctx context.Context, idx Indexer, event EvaluationEvent) error {
	switch event.Type {
	case EventSaved:
		return idx.IndexDocument(ctx, event.ID, event.Comment)
	case EventUpdated:
		return idx.ReplaceDocument(ctx, event.ID, event.Comment)
	case EventDeleted:
		return idx.DeleteDocument(ctx, event.ID)
	default:
		return errUnknownType
	}
}

func permanentIfInvalid(err error) error {
	if errors.Is(err, errUnknownType) || errors.Is(err, apperrors.ErrInvalidInput) {
		return resilience.Permanent(err)
	}
	return err
}

func observe(m *metrics.Metrics, eventType, status string) {
	if m != nil {
		m.EventsConsumedTotal.WithLabelValues(eventType, status).Inc()
	}
}
