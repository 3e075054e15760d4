// Package tracing provides lightweight spans propagated through contexts.
// Finished root spans are logged as one slog record per span.
package tracing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

type contextKey struct{}

// Tracer decides which root spans are recorded.
type Tracer struct {
	enabled    bool
	sampleRate float64
	logger     *slog.Logger
}

// NewTracer returns a tracer recording roughly sampleRate of root spans.
func NewTracer(enabled bool, sampleRate float64) *Tracer {
	return &Tracer{
		enabled:    enabled,
		sampleRate: sampleRate,
		logger:     slog.Default().With("component", "tracing"),
	}
}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any

	mu     sync.Mutex
	logger *slog.Logger
	root   bool
}

// Start opens a root span. When the tracer is disabled or the trace is not
// sampled the returned span is nil; all Span methods accept a nil receiver.
func (t *Tracer) Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if t == nil || !t.enabled || (t.sampleRate < 1 && rand.Float64() >= t.sampleRate) {
		return ctx, nil
	}
	span := &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
		logger:    t.logger,
		root:      true,
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChild opens a span under the one in ctx. Without a parent it returns
// ctx and a nil span.
func StartChild(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	if parent == nil {
		return ctx, nil
	}
	child := &Span{
		Name:      name,
		TraceID:   parent.TraceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
		logger:    parent.logger,
	}
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, contextKey{}, child), child
}

// End records the duration. Ending a root span logs the whole tree.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
	if s.root {
		s.logRecursive(0)
	}
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// FromContext extracts the current span from ctx, or nil if none.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

func (s *Span) logRecursive(depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_us", s.Duration.Microseconds(),
		"depth", depth,
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()
	s.logger.Debug("span", attrs...)

	for _, child := range children {
		child.logRecursive(depth + 1)
	}
}
