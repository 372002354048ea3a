package ingest

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"speechflow/internal/pipeline"
)

// Key identifies a submitted file by escaped name and size. Two different
// files with the same name and size collide.
func Key(originalFileName string, size int64) string {
	sum := xxhash.Sum64String(pipeline.EscapeFileName(originalFileName) + "|" + strconv.FormatInt(size, 10))
	return strconv.FormatUint(sum, 16)
}

// FindDuplicate returns a pipeline whose first stage is PENDING or ERROR and
// that holds a file with key, plus the file index.
func FindDuplicate(pipelines []*pipeline.Pipeline, key string) (*pipeline.Pipeline, int) {
	for _, p := range pipelines {
		first := p.Stage(0)
		if first == nil || (first.State() != pipeline.StatePending && first.State() != pipeline.StateError) {
			continue
		}
		for i, f := range p.Files() {
			if Key(f.OriginalName(), f.Size) == key {
				return p, i
			}
		}
	}
	return nil, -1
}
