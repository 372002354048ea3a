package logging

import (
	"context"
	"log/slog"
	"time"

	"speechflow/internal/services"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// PipelineID tags a line with the pipeline it concerns.
func PipelineID(id int64) Attr { return slog.Int64(FieldPipelineID, id) }

// StageAttrs identifies one stage run. A zero stageID or blank stage is
// left out so pipeline-level lines can share the helper.
func StageAttrs(pipelineID, stageID int64, stage string) []Attr {
	attrs := []Attr{PipelineID(pipelineID)}
	if stageID > 0 {
		attrs = append(attrs, slog.Int64(FieldStageID, stageID))
	}
	if stage != "" {
		attrs = append(attrs, slog.String(FieldStage, stage))
	}
	return attrs
}

// ForStage returns logger scoped to one stage run.
func ForStage(logger *slog.Logger, pipelineID, stageID int64, stage string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(attrsToArgs(StageAttrs(pipelineID, stageID, stage))...)
}

// errorKind returns the services marker of the first error attribute.
func errorKind(attrs []Attr) (string, bool) {
	for _, a := range attrs {
		if a.Key != "error" || a.Value.Kind() != slog.KindAny {
			continue
		}
		if err, ok := a.Value.Any().(error); ok && err != nil {
			return services.Marker(err), true
		}
	}
	return "", false
}

func attrsToArgs(attrs []Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func Args(attrs ...Attr) []any {
	return attrsToArgs(attrs)
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// HasAttrKey returns true if any attribute in attrs has the given key.
func HasAttrKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// WarnWithContext logs a warning with enforced event_type, error_hint and
// impact fields, injecting defaults for missing ones. An error attribute
// also yields error_kind.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	if !HasAttrKey(attrs, FieldEventType) {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !HasAttrKey(attrs, FieldErrorHint) {
		attrs = append(attrs, String(FieldErrorHint, "check logs for details"))
	}
	if kind, ok := errorKind(attrs); ok && !HasAttrKey(attrs, FieldErrorKind) {
		attrs = append(attrs, String(FieldErrorKind, kind))
	}
	if !HasAttrKey(attrs, FieldImpact) {
		attrs = append(attrs, String(FieldImpact, "operation completed with warnings"))
	}
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error with enforced event_type and error_hint
// fields. An error attribute also yields error_kind.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	if kind, ok := errorKind(attrs); ok && !HasAttrKey(attrs, FieldErrorKind) {
		attrs = append(attrs, String(FieldErrorKind, kind))
	}
	if !HasAttrKey(attrs, FieldEventType) {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !HasAttrKey(attrs, FieldErrorHint) {
		attrs = append(attrs, String(FieldErrorHint, "check logs for details"))
	}
	logger.Error(msg, Args(attrs...)...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
