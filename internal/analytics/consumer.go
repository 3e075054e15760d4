package analytics

import (
	"context"
	"encoding/json"

	"github.com/Hikikomori041/m2-projetweb/pkg/kafka"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
)

// HandleEvent returns a Kafka MessageHandler feeding published search and
// index events back into aggregator, for a standalone analytics service.
// Undecodable messages are logged and skipped.
func HandleEvent(aggregator *Aggregator) kafka.MessageHandler {
	log := logger.WithComponent("analytics-consumer")
	return func(_ context.Context, key []byte, value []byte) error {
		event, err := decodeEvent(value)
		if err != nil {
			log.Warn("skipping analytics message", "key", string(key), "error", err)
			return nil
		}
		aggregator.Record(event)
		return nil
	}
}

func decodeEvent(value []byte) (any, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case EventIndexDoc, EventDeleteDoc:
		return kafka.DecodeJSON[IndexEvent](value)
	default:
		return kafka.DecodeJSON[SearchEvent](value)
	}
}
