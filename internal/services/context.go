package services

import "context"

type contextKey string

const (
	pipelineIDKey contextKey = "pipeline_id"
	stageIDKey    contextKey = "stage_id"
	stageKindKey  contextKey = "stage"
	requestIDKey  contextKey = "request_id"
)

// WithPipelineID annotates context with the pipeline identifier.
func WithPipelineID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, pipelineIDKey, id)
}

// PipelineIDFromContext extracts the pipeline identifier if present.
func PipelineIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, pipelineIDKey)
}

// WithStageID annotates context with the stage identifier.
func WithStageID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, stageIDKey, id)
}

// StageIDFromContext extracts the stage identifier if present.
func StageIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, stageIDKey)
}

// WithStage annotates context with the stage kind name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKindKey, stage)
}

// StageFromContext returns the stage kind name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKindKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

func int64Value(ctx context.Context, key contextKey) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	switch val := ctx.Value(key).(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}
