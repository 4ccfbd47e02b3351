package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", InstanceKey(ctx))
	assert.Equal(t, "", TransitionID(ctx))
	assert.Equal(t, "", Tool(ctx))

	ctx = WithInstanceKey(ctx, "order-1")
	ctx = WithTransitionID(ctx, "approve")
	ctx = WithTool(ctx, "CreateValue")

	assert.Equal(t, "order-1", InstanceKey(ctx))
	assert.Equal(t, "approve", TransitionID(ctx))
	assert.Equal(t, "CreateValue", Tool(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithTransitionID(WithInstanceKey(context.Background(), "order-1"), "approve")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "instance=order-1")
	assert.Contains(t, output, "transition=approve")
	assert.NotContains(t, output, "tool=")
	assert.Contains(t, output, "test message")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "instance=")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithTool(WithInstanceKey(context.Background(), "i-auto"), "jq")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"instance":"i-auto"`)
	assert.Contains(t, output, `"tool":"jq"`)
	assert.NotContains(t, output, `"transition"`)
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}).WithGroup("run"))

	logger.InfoContext(WithInstanceKey(context.Background(), "i-grp"), "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, `"component":"engine"`)
	assert.Contains(t, output, "i-grp")
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")

	logger.Info("hidden")
	logger.WarnContext(WithInstanceKey(context.Background(), "k"), "shown")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, `"msg":"shown"`)
	assert.Contains(t, output, `"instance":"k"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewNop(t *testing.T) {
	assert.NotPanics(t, func() { NewNop().Error("dropped") })
}
