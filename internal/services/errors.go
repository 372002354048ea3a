package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrProvider       = errors.New("provider error")
	ErrDuplicateEntry = errors.New("duplicate entry")
	ErrStorage        = errors.New("storage error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("timeout")
	ErrTransient      = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Severity classifies an error for logging. Validation and duplicate-entry
// failures are caller mistakes and log at warn; everything else logs at error.
func Severity(err error) string {
	switch {
	case err == nil:
		return "info"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicateEntry), errors.Is(err, ErrNotFound):
		return "warn"
	default:
		return "error"
	}
}

// Marker returns the short name of the sentinel carried by err, or "unknown".
func Marker(err error) string {
	for _, marker := range []error{
		ErrValidation, ErrProvider, ErrDuplicateEntry, ErrStorage,
		ErrConfiguration, ErrNotFound, ErrTimeout, ErrTransient,
	} {
		if errors.Is(err, marker) {
			return strings.ReplaceAll(marker.Error(), " ", "_")
		}
	}
	return "unknown"
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
