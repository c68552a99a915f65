package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON logger shared by reminderd and remindctl. Every
// line carries the binary in "component". Sampling is off: one line per
// recipient is the only audit trail a failed reminder leaves outside the
// delivery table.
func NewLogger(level, component string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if component != "" {
		cfg.InitialFields = map[string]interface{}{"component": component}
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", component, err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return zapcore.InfoLevel, nil
	}

	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

// LogScope is what a log line is about: the tick or operator run, and once a
// reminder is being dispatched, its webinar, kind and occurrence.
type LogScope struct {
	RunID          string
	WebinarID      string
	Kind           string
	OccurrenceDate string
}

type scopeKey struct{}

func (s LogScope) fields() []zap.Field {
	fields := make([]zap.Field, 0, 4)
	if s.RunID != "" {
		fields = append(fields, zap.String("runId", s.RunID))
	}
	if s.WebinarID != "" {
		fields = append(fields, zap.String("webinarId", s.WebinarID))
	}
	if s.Kind != "" {
		fields = append(fields, zap.String("kind", s.Kind))
	}
	if s.OccurrenceDate != "" {
		fields = append(fields, zap.String("occurrenceDate", s.OccurrenceDate))
	}
	return fields
}

// ScopeFromContext returns the scope stored in ctx, or the zero scope.
func ScopeFromContext(ctx context.Context) LogScope {
	if ctx == nil {
		return LogScope{}
	}
	scope, _ := ctx.Value(scopeKey{}).(LogScope)
	return scope
}

func withScope(ctx context.Context, scope LogScope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, scope)
}

// WithRunID starts a new run. Any dispatch scope inherited from ctx is dropped.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withScope(ctx, LogScope{RunID: runID})
}

func RunIDFromContext(ctx context.Context) (string, bool) {
	runID := ScopeFromContext(ctx).RunID
	return runID, runID != ""
}

// WithDispatch narrows the run in ctx to one reminder. An empty occurrenceDate
// keeps the one already in scope.
func WithDispatch(ctx context.Context, webinarID, kind, occurrenceDate string) context.Context {
	scope := ScopeFromContext(ctx)
	if scope.WebinarID != webinarID || scope.Kind != kind {
		scope.OccurrenceDate = ""
	}
	scope.WebinarID = webinarID
	scope.Kind = kind
	if occurrenceDate != "" {
		scope.OccurrenceDate = occurrenceDate
	}
	return withScope(ctx, scope)
}

// ScopedLogger returns logger with the fields of the scope in ctx.
func ScopedLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	fields := ScopeFromContext(ctx).fields()
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
