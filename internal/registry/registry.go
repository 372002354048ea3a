// Package registry keeps the ordered set of top-level pipelines and groups
// and the flattened index used by the status views.
package registry

import (
	"fmt"
	"sync"

	"speechflow/internal/pipeline"
	"speechflow/internal/services"
)

// ChangeState classifies a registry change.
type ChangeState string

const (
	Added   ChangeState = "added"
	Removed ChangeState = "removed"
	Changed ChangeState = "changed"
)

// Change is delivered to subscribers after the registry was modified.
// Persist tells persistence listeners whether the entry should be written.
type Change struct {
	State   ChangeState
	Persist bool
	Entry   pipeline.Entry
}

// Registry is the ordered list of top-level entries.
type Registry struct {
	mu        sync.RWMutex
	entries   []pipeline.Entry
	listeners []func(Change)
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Subscribe registers fn for every change. The returned function removes it.
func (r *Registry) Subscribe(fn func(Change)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
	idx := len(r.listeners) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.listeners) {
			r.listeners[idx] = nil
		}
	}
}

func (r *Registry) notify(change Change) {
	r.mu.RLock()
	listeners := make([]func(Change), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(change)
		}
	}
}

// Add appends entry at top level. An entry whose id is already registered
// (at top level or inside a group) is rejected with ErrDuplicateEntry.
func (r *Registry) Add(entry pipeline.Entry, persist bool) error {
	if entry == nil {
		return services.Wrap(services.ErrValidation, "registry", "add", "nil entry", nil)
	}
	r.mu.Lock()
	if _, ok := r.findLocked(entry.ID()); ok {
		r.mu.Unlock()
		return services.Wrap(services.ErrDuplicateEntry, "registry", "add", fmt.Sprintf("entry %d already registered", entry.ID()), nil)
	}
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	r.notify(Change{State: Added, Persist: persist, Entry: entry})
	return nil
}

// Remove deletes entry. A grouped pipeline is removed from its group, the
// group is reported as changed and cleaned up. It reports whether anything
// was removed.
func (r *Registry) Remove(entry pipeline.Entry, persist bool) bool {
	if p, ok := entry.(*pipeline.Pipeline); ok && p.Group() != nil {
		group := p.Group()
		r.mu.Lock()
		removed := group.Remove(p)
		r.mu.Unlock()
		if !removed {
			return false
		}
		r.notify(Change{State: Changed, Persist: persist, Entry: group})
		r.Cleanup(group, persist)
		return true
	}

	r.mu.Lock()
	idx := r.topIndexLocked(entry.ID())
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	removed := r.entries[idx]
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	r.mu.Unlock()

	r.notify(Change{State: Removed, Persist: persist, Entry: removed})
	return true
}

// Cleanup dissolves degenerate groups. A group without children is removed.
// A group with exactly one child is removed and the child is promoted to top
// level with its own id. Other entries are left alone, so Cleanup is
// idempotent.
func (r *Registry) Cleanup(entry pipeline.Entry, persist bool) {
	group, ok := entry.(*pipeline.Group)
	if !ok {
		return
	}
	switch group.Len() {
	case 0:
		r.Remove(group, persist)
	case 1:
		child := group.Entries()[0]
		group.Remove(child)
		r.Remove(group, persist)
		pipeline.Detach(child)
		// The child id was only reachable through the group, so this
		// cannot collide.
		_ = r.Add(child, persist)
	}
}

// NotifyChanged reports an in-place modification of entry.
func (r *Registry) NotifyChanged(entry pipeline.Entry, persist bool) {
	r.notify(Change{State: Changed, Persist: persist, Entry: entry})
}

// Len is the flattened length: a group counts as itself plus its children.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entry := range r.entries {
		n++
		if g, ok := entry.(*pipeline.Group); ok {
			n += g.Len()
		}
	}
	return n
}

// IndexOf returns the flattened index of entry, or -1. Children are counted
// directly after their group.
func (r *Registry) IndexOf(entry pipeline.Entry) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	index := 0
	for _, top := range r.entries {
		if top.ID() == entry.ID() {
			return index
		}
		index++
		if g, ok := top.(*pipeline.Group); ok {
			if j := g.IndexOf(entry.ID()); j >= 0 {
				return index + j
			}
			index += g.Len()
		}
	}
	return -1
}

// EntryAt returns the entry at flattened index.
func (r *Registry) EntryAt(index int) (pipeline.Entry, bool) {
	if index < 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos := 0
	for _, top := range r.entries {
		if pos == index {
			return top, true
		}
		pos++
		if g, ok := top.(*pipeline.Group); ok {
			if index < pos+g.Len() {
				return g.Entries()[index-pos], true
			}
			pos += g.Len()
		}
	}
	return nil, false
}

// FindByID looks up a top-level entry or a grouped pipeline.
func (r *Registry) FindByID(id int64) (pipeline.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(id)
}

// FindPipeline looks up a pipeline by id.
func (r *Registry) FindPipeline(id int64) (*pipeline.Pipeline, bool) {
	entry, ok := r.FindByID(id)
	if !ok {
		return nil, false
	}
	p, ok := entry.(*pipeline.Pipeline)
	return p, ok
}

// FindStage returns the stage with id from any registered pipeline.
func (r *Registry) FindStage(id int64) (*pipeline.Stage, bool) {
	for _, p := range r.Pipelines() {
		if st := p.StageByID(id); st != nil {
			return st, true
		}
	}
	return nil, false
}

func (r *Registry) findLocked(id int64) (pipeline.Entry, bool) {
	for _, top := range r.entries {
		if top.ID() == id {
			return top, true
		}
		if g, ok := top.(*pipeline.Group); ok {
			if j := g.IndexOf(id); j >= 0 {
				return g.Entries()[j], true
			}
		}
	}
	return nil, false
}

func (r *Registry) topIndexLocked(id int64) int {
	for i, top := range r.entries {
		if top.ID() == id {
			return i
		}
	}
	return -1
}

// FindGroupByPath returns the top-level group with path.
func (r *Registry) FindGroupByPath(path string) (*pipeline.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, top := range r.entries {
		if g, ok := top.(*pipeline.Group); ok && g.Path() == path {
			return g, true
		}
	}
	return nil, false
}

// Entries returns the top-level entries in order.
func (r *Registry) Entries() []pipeline.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pipeline.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Pipelines returns every pipeline, grouped ones included, in registry
// order.
func (r *Registry) Pipelines() []*pipeline.Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*pipeline.Pipeline
	for _, top := range r.entries {
		switch e := top.(type) {
		case *pipeline.Pipeline:
			out = append(out, e)
		case *pipeline.Group:
			out = append(out, e.Entries()...)
		}
	}
	return out
}

// Groups returns the top-level groups in order.
func (r *Registry) Groups() []*pipeline.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*pipeline.Group
	for _, top := range r.entries {
		if g, ok := top.(*pipeline.Group); ok {
			out = append(out, g)
		}
	}
	return out
}

// TopLevel returns the top-level entry that holds id: the entry itself or
// the group of a grouped pipeline.
func (r *Registry) TopLevel(id int64) (pipeline.Entry, bool) {
	entry, ok := r.FindByID(id)
	if !ok {
		return nil, false
	}
	if p, isPipeline := entry.(*pipeline.Pipeline); isPipeline && p.Group() != nil {
		return p.Group(), true
	}
	return entry, true
}
