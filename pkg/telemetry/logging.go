// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ConfigureSlog builds the process logger and installs it as slog's default.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := NewLogger(output, level, format)
	slog.SetDefault(logger)
	return logger
}

// NewLogger builds a logger that stamps every record with the span ids and
// the run scope found in its context. The global logger is left alone.
func NewLogger(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var base slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}
	return slog.New(&scopeHandler{next: base})
}

type scopeKey struct{}

// scope is the part of a run a context belongs to.
type scope struct {
	runID string
	stage string
	unit  string
}

// WithRun returns a context whose log records carry run_id.
func WithRun(ctx context.Context, runID string) context.Context {
	s := scopeFrom(ctx)
	s.runID = runID
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithStage returns a context whose log records carry stage.
func WithStage(ctx context.Context, stage string) context.Context {
	s := scopeFrom(ctx)
	s.stage = stage
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithUnit returns a context whose log records carry unit. Concurrent
// annotation units interleave in the log, so each gets its own.
func WithUnit(ctx context.Context, unit string) context.Context {
	s := scopeFrom(ctx)
	s.unit = unit
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

type scopeHandler struct {
	next slog.Handler
}

func (h *scopeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *scopeHandler) Handle(ctx context.Context, record slog.Record) error {
	s := scopeFrom(ctx)
	traceID, spanID := spanIDs(ctx)
	for _, kv := range [][2]string{
		{"run_id", s.runID},
		{"stage", s.stage},
		{"unit", s.unit},
		{"trace_id", traceID},
		{"span_id", spanID},
	} {
		if kv[1] != "" && !hasAttr(record, kv[0]) {
			record.AddAttrs(slog.String(kv[0], kv[1]))
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *scopeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &scopeHandler{next: h.next.WithAttrs(attrs)}
}

func (h *scopeHandler) WithGroup(name string) slog.Handler {
	return &scopeHandler{next: h.next.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func spanIDs(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

func hasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		found = attr.Key == key
		return !found
	})
	return found
}
