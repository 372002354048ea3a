// Package ingest validates submitted recordings and transcripts and turns
// them into pipelines. Items are processed one at a time from a FIFO queue.
package ingest

import (
	"speechflow/internal/pipeline"
)

// Item is a file or directory awaiting classification.
type Item struct {
	// Path is the local path of the file or directory.
	Path string
	// Name is the name the file was submitted with. Defaults to the base
	// name of Path.
	Name string
	Size int64
	// Attributes are copied onto every file reference built from the item.
	Attributes map[string]string
	// Parent is the directory path of an item that belongs to a directory
	// submission.
	Parent string
}

// Result is emitted once per processed item. Entries is empty when the item
// was merged into an existing pipeline.
type Result struct {
	Item    Item
	Entries []pipeline.Entry
	Err     error
}
