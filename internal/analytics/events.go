package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventIndexDoc   EventType = "index_document"
	EventDeleteDoc  EventType = "delete_document"
)

type SearchEvent struct {
	Type       EventType `json:"type"`
	Query      string    `json:"query"`
	Terms      []string  `json:"terms"`
	Generation uint64    `json:"generation"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Refreshed  bool      `json:"refreshed"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

type IndexEvent struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id"`
	Generation uint64    `json:"generation"`
	Removed    int       `json:"removed,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
