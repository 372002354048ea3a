package services_test

import (
	"context"
	"testing"

	"speechflow/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPipelineID(ctx, 42)
	ctx = services.WithStageID(ctx, 7)
	ctx = services.WithStage(ctx, "ASR")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.PipelineIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected pipeline id: %v %v", id, ok)
	}
	if id, ok := services.StageIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("unexpected stage id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "ASR" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.PipelineIDFromContext(ctx); ok {
		t.Fatal("expected no pipeline id")
	}
}
