package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	// --- Arrange ---
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)

	// --- Act ---
	FromContext(ctx).Info("hello", "module", "dynamic_library.tbb")

	// --- Assert ---
	assert.Contains(t, buf.String(), "module=dynamic_library.tbb")
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith(t *testing.T) {
	// --- Arrange ---
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	// --- Act ---
	ctx, logger := With(ctx, "worker", 3)
	FromContext(ctx).Info("first")
	logger.Info("second", "module", "source_collection.tbb.source")

	// --- Assert ---
	out := buf.String()
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("worker=3")))
	assert.Contains(t, out, "msg=first")
	assert.Contains(t, out, "module=source_collection.tbb.source")
}
