package services_test

import (
	"errors"
	"strings"
	"testing"

	"speechflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrProvider, "asr", "run pipeline", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"asr", "run pipeline", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestSeverityAndMarker(t *testing.T) {
	dup := services.Wrap(services.ErrDuplicateEntry, "registry", "add", "id 4 exists", nil)
	if got := services.Severity(dup); got != "warn" {
		t.Fatalf("expected warn for duplicate entry, got %s", got)
	}
	if got := services.Marker(dup); got != "duplicate_entry" {
		t.Fatalf("unexpected marker %q", got)
	}

	storage := services.Wrap(services.ErrStorage, "store", "save", "", errors.New("disk full"))
	if got := services.Severity(storage); got != "error" {
		t.Fatalf("expected error for storage failure, got %s", got)
	}
	if got := services.Severity(nil); got != "info" {
		t.Fatalf("expected info for nil, got %s", got)
	}
	if got := services.Marker(errors.New("plain")); got != "unknown" {
		t.Fatalf("expected unknown marker, got %s", got)
	}
}
