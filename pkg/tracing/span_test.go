package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	tr := NewTracer(true, 1)
	ctx, root := tr.Start(context.Background(), "search", "req-1")
	require.NotNil(t, root)

	_, child := StartChild(ctx, "evaluate")
	require.NotNil(t, child)
	child.SetAttr("hits", 2)
	child.End()
	root.End()

	assert.Equal(t, "req-1", child.TraceID)
	assert.Len(t, root.Children, 1)
	assert.Equal(t, 2, child.Attrs["hits"])
	assert.Same(t, root, FromContext(ctx))
}

func TestDisabledTracerIsNoop(t *testing.T) {
	ctx, root := NewTracer(false, 1).Start(context.Background(), "search", "x")
	assert.Nil(t, root)
	_, child := StartChild(ctx, "evaluate")
	assert.Nil(t, child)

	assert.NotPanics(t, func() {
		child.SetAttr("k", "v")
		child.End()
	})

	var nilTracer *Tracer
	_, span := nilTracer.Start(context.Background(), "search", "x")
	assert.Nil(t, span)
}
