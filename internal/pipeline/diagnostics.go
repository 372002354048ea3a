package pipeline

import (
	"regexp"
	"strings"
)

// Severity of a parsed diagnostic line.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Diagnostic is one structured entry of a stage protocol.
type Diagnostic struct {
	Severity Severity `json:"type"`
	Message  string   `json:"message"`
}

var diagnosticLine = regexp.MustCompile(`(?m)((?:ERROR)|(?:WARNING)): (.+)$`)

// ParseDiagnostics extracts WARNING and ERROR lines from provider output.
// HTML line breaks are treated as newlines. Empty input yields an empty,
// non-nil slice.
func ParseDiagnostics(protocol string) []Diagnostic {
	out := []Diagnostic{}
	if protocol == "" {
		return out
	}
	text := strings.ReplaceAll(protocol, "<br/>", "\n")
	for _, match := range diagnosticLine.FindAllStringSubmatch(text, -1) {
		out = append(out, Diagnostic{Severity: Severity(match[1]), Message: strings.TrimRight(match[2], "\r")})
	}
	return out
}
