package registry_test

import (
	"errors"
	"testing"

	"speechflow/internal/pipeline"
	"speechflow/internal/registry"
	"speechflow/internal/services"
)

type fixture struct {
	reg     *registry.Registry
	ids     *pipeline.IDGenerator
	changes []registry.Change
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{reg: registry.New(), ids: pipeline.NewIDGenerator(0)}
	f.reg.Subscribe(func(c registry.Change) { f.changes = append(f.changes, c) })
	return f
}

func (f *fixture) pipeline(id int64) *pipeline.Pipeline {
	p := pipeline.New(id, pipeline.DefaultTemplate(), f.ids, "deu-DE", "Google")
	p.AddFile(pipeline.FileRef{FullName: "a.wav"})
	return p
}

func (f *fixture) group(id int64, path string, children ...int64) *pipeline.Group {
	g := pipeline.NewGroup(id, path)
	for _, child := range children {
		g.Add(f.pipeline(child))
	}
	return g
}

func TestAddRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.Add(f.pipeline(1), true); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.reg.Add(f.group(2, "x_dir/", 3), true); err != nil {
		t.Fatalf("Add group: %v", err)
	}

	if err := f.reg.Add(f.pipeline(1), true); !errors.Is(err, services.ErrDuplicateEntry) {
		t.Fatalf("expected duplicate top-level id rejected, got %v", err)
	}
	if err := f.reg.Add(f.pipeline(3), true); !errors.Is(err, services.ErrDuplicateEntry) {
		t.Fatalf("expected duplicate grouped id rejected, got %v", err)
	}
	if len(f.reg.Entries()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(f.reg.Entries()))
	}
	if len(f.changes) != 2 || f.changes[0].State != registry.Added || !f.changes[0].Persist {
		t.Fatalf("unexpected changes %+v", f.changes)
	}
}

func TestFlattenedIndex(t *testing.T) {
	f := newFixture(t)
	p1 := f.pipeline(1)
	g := f.group(2, "rec_dir/", 3, 4)
	p5 := f.pipeline(5)
	for _, e := range []pipeline.Entry{p1, g, p5} {
		if err := f.reg.Add(e, false); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if f.reg.Len() != 5 {
		t.Fatalf("expected flattened length 5, got %d", f.reg.Len())
	}
	wantIDs := []int64{1, 2, 3, 4, 5}
	for i, want := range wantIDs {
		entry, ok := f.reg.EntryAt(i)
		if !ok || entry.ID() != want {
			t.Fatalf("EntryAt(%d) = %v, want id %d", i, entry, want)
		}
		if idx := f.reg.IndexOf(entry); idx != i {
			t.Fatalf("IndexOf(%d) = %d, want %d", want, idx, i)
		}
	}
	if _, ok := f.reg.EntryAt(5); ok {
		t.Fatal("expected EntryAt past the end to fail")
	}
	if idx := f.reg.IndexOf(f.pipeline(99)); idx != -1 {
		t.Fatalf("expected -1 for unknown entry, got %d", idx)
	}

	pipelines := f.reg.Pipelines()
	if len(pipelines) != 4 || pipelines[1].ID() != 3 || pipelines[3].ID() != 5 {
		t.Fatalf("unexpected flattened pipelines")
	}
	if got, ok := f.reg.FindGroupByPath("rec_dir/"); !ok || got != g {
		t.Fatal("expected group lookup by path")
	}
	if top, ok := f.reg.TopLevel(4); !ok || top != g {
		t.Fatal("expected grouped pipeline to resolve to its group")
	}
}

func TestFlattenedIndexWithEmptyAndSingleGroups(t *testing.T) {
	f := newFixture(t)
	entries := []pipeline.Entry{
		f.pipeline(1),
		f.group(2, "empty_dir/"),
		f.group(3, "one_dir/", 4),
		f.group(5, "two_dir/", 6, 7),
		f.pipeline(8),
	}
	for _, e := range entries {
		if err := f.reg.Add(e, false); err != nil {
			t.Fatalf("Add(%d): %v", e.ID(), err)
		}
	}

	if f.reg.Len() != 8 {
		t.Fatalf("expected flattened length 8, got %d", f.reg.Len())
	}
	for i, want := range []int64{1, 2, 3, 4, 5, 6, 7, 8} {
		entry, ok := f.reg.EntryAt(i)
		if !ok || entry.ID() != want {
			t.Fatalf("EntryAt(%d) = %v, want id %d", i, entry, want)
		}
		if idx := f.reg.IndexOf(entry); idx != i {
			t.Fatalf("IndexOf(%d) = %d, want %d", want, idx, i)
		}
	}
	if _, ok := f.reg.EntryAt(8); ok {
		t.Fatal("expected EntryAt past the end to fail")
	}
	if n := len(f.reg.Pipelines()); n != 5 {
		t.Fatalf("expected 5 pipelines, got %d", n)
	}
}

func TestRemoveGroupedPipelineDissolvesGroup(t *testing.T) {
	f := newFixture(t)
	g := f.group(10, "rec_dir/", 11, 12)
	if err := f.reg.Add(g, true); err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.changes = nil

	child, _ := f.reg.FindPipeline(11)
	if !f.reg.Remove(child, true) {
		t.Fatal("expected grouped pipeline removed")
	}

	entries := f.reg.Entries()
	if len(entries) != 1 || entries[0].ID() != 12 {
		t.Fatalf("expected survivor promoted to top level, got %v", entries)
	}
	survivor := entries[0].(*pipeline.Pipeline)
	if survivor.Group() != nil {
		t.Fatal("expected promoted child to have no group")
	}

	var states []registry.ChangeState
	for _, c := range f.changes {
		states = append(states, c.State)
	}
	want := []registry.ChangeState{registry.Changed, registry.Removed, registry.Added}
	if len(states) != len(want) {
		t.Fatalf("changes = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("changes = %v, want %v", states, want)
		}
	}
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	empty := f.group(1, "empty/")
	full := f.group(2, "full/", 3, 4)
	for _, e := range []pipeline.Entry{empty, full} {
		if err := f.reg.Add(e, false); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	f.reg.Cleanup(empty, false)
	f.reg.Cleanup(full, false)
	f.reg.Cleanup(full, false)

	entries := f.reg.Entries()
	if len(entries) != 1 || entries[0] != full || full.Len() != 2 {
		t.Fatalf("unexpected entries after cleanup: %v", entries)
	}
}

func TestRemoveUnknownEntry(t *testing.T) {
	f := newFixture(t)
	if f.reg.Remove(f.pipeline(7), true) {
		t.Fatal("expected unknown entry not removed")
	}
	if len(f.changes) != 0 {
		t.Fatalf("expected no change events, got %+v", f.changes)
	}
}
