//go:build !tracing

package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopExporter(t *testing.T) {
	exporter, err := NewFileExporter("/nonexistent/path/traces.jsonl")
	require.NoError(t, err, "noop exporter must not touch the filesystem")

	_, ok := exporter.(*NoopExporter)
	assert.True(t, ok, "non-tracing builds return the noop exporter")

	assert.NoError(t, exporter.Export(context.Background(), &TraceRecord{Operation: "call"}))
	assert.NoError(t, exporter.Close())
}
