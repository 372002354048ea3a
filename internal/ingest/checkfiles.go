package ingest

import (
	"strings"

	"speechflow/internal/pipeline"
	"speechflow/internal/registry"
)

// CheckFiles drops the channels the operator did not choose from split
// groups (paths containing "_dir") and dissolves groups left with one child.
// It returns the number of removed pipelines. BOTH and unanswered prompts
// keep everything.
func CheckFiles(reg *registry.Registry, choice SplitChoice) int {
	var drop string
	switch choice {
	case SplitFirst:
		drop = "_2."
	case SplitSecond:
		drop = "_1."
	default:
		return 0
	}

	removed := 0
	for _, group := range reg.Groups() {
		if !strings.Contains(group.Path(), "_dir") {
			continue
		}
		for _, child := range group.Entries() {
			if child.State() != pipeline.StateQueued {
				continue
			}
			file, ok := child.File(0)
			if !ok || !file.Available() || !strings.Contains(file.FullName, drop) {
				continue
			}
			if reg.Remove(child, true) {
				removed++
			}
		}
		reg.Cleanup(group, true)
	}
	return removed
}
