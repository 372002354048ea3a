package ingest_test

import (
	"context"
	"path/filepath"
	"testing"

	"speechflow/internal/ingest"
	"speechflow/internal/pipeline"
	"speechflow/internal/registry"
	"speechflow/internal/testsupport"
)

type harness struct {
	reg   *registry.Registry
	in    *ingest.Ingestor
	asked int
	dir   string
}

func newHarness(t *testing.T, choice ingest.SplitChoice) *harness {
	t.Helper()
	h := &harness{reg: registry.New(), dir: t.TempDir()}
	h.in = ingest.New(ingest.Options{
		WorkDir:     filepath.Join(h.dir, "work"),
		Registry:    h.reg,
		Template:    pipeline.DefaultTemplate(),
		PipelineIDs: pipeline.NewIDGenerator(0),
		StageIDs:    pipeline.NewIDGenerator(0),
		Defaults:    func() (string, string) { return "deu-DE", "Google" },
		Split:       ingest.NewSplitPrompt(choice, func() { h.asked++ }),
	})
	return h
}

func (h *harness) process(t *testing.T, path string) []pipeline.Entry {
	t.Helper()
	entries, err := h.in.Process(context.Background(), ingest.Item{Path: path})
	if err != nil {
		t.Fatalf("Process(%s): %v", path, err)
	}
	return entries
}

func TestProcessMonoRecording(t *testing.T) {
	h := newHarness(t, ingest.SplitPending)
	path := filepath.Join(h.dir, "my rec.wav")
	testsupport.WriteWAV(t, path, testsupport.WAVSpec{})

	entries := h.process(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	p := entries[0].(*pipeline.Pipeline)
	if p.State() != pipeline.StateQueued || p.Language() != "deu-DE" || p.Provider() != "Google" {
		t.Fatalf("unexpected pipeline %d %s %s %s", p.ID(), p.State(), p.Language(), p.Provider())
	}
	file, _ := p.File(0)
	if file.FullName != "my_rec.wav" || file.OriginalName() != "my rec.wav" || file.Path != path || !file.Available() {
		t.Fatalf("unexpected file %+v", file)
	}
}

func TestProcessDuplicateReplacesFile(t *testing.T) {
	h := newHarness(t, ingest.SplitPending)
	path := filepath.Join(h.dir, "rec.wav")
	testsupport.WriteWAV(t, path, testsupport.WAVSpec{})

	first := h.process(t, path)
	if err := h.reg.Add(first[0], false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	var changed int
	h.reg.Subscribe(func(c registry.Change) {
		if c.State == registry.Changed {
			changed++
		}
	})

	again := h.process(t, path)
	if len(again) != 0 {
		t.Fatalf("expected duplicate to merge, got %d entries", len(again))
	}
	if changed != 1 {
		t.Fatalf("expected one persisted change, got %d", changed)
	}
}

func TestProcessTranscriptAttachesToQueuedAudio(t *testing.T) {
	h := newHarness(t, ingest.SplitPending)
	wav := filepath.Join(h.dir, "rec.wav")
	testsupport.WriteWAV(t, wav, testsupport.WAVSpec{})
	entries := h.process(t, wav)
	if err := h.reg.Add(entries[0], false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	par := filepath.Join(h.dir, "rec_annot.json")
	testsupport.WriteText(t, par, `{"name":"rec","levels":[]}`)
	if got := h.process(t, par); len(got) != 0 {
		t.Fatalf("expected transcript merged, got %d entries", len(got))
	}

	p := entries[0].(*pipeline.Pipeline)
	files := p.Files()
	if len(files) != 2 || files[1].FullName != "rec_annot.json" || files[1].Content == "" {
		t.Fatalf("unexpected files %+v", files)
	}
	if asr := p.StageOfKind(pipeline.KindASR); asr.State() != pipeline.StateSkipped || asr.Enabled() {
		t.Fatalf("expected ASR skipped, got %s enabled=%v", asr.State(), asr.Enabled())
	}
}

func TestProcessDirectoryPairsTranscripts(t *testing.T) {
	h := newHarness(t, ingest.SplitPending)
	session := filepath.Join(h.dir, "session")
	testsupport.WriteWAV(t, filepath.Join(session, "a.wav"), testsupport.WAVSpec{})
	testsupport.WriteText(t, filepath.Join(session, "a.par"), "ORT: 0 hallo\n")
	testsupport.WriteWAV(t, filepath.Join(session, "b.wav"), testsupport.WAVSpec{Frames: 32})

	entries := h.process(t, session)
	if len(entries) != 1 {
		t.Fatalf("expected one group, got %d entries", len(entries))
	}
	group, ok := entries[0].(*pipeline.Group)
	if !ok || group.Path() != "session/" || group.Len() != 2 {
		t.Fatalf("unexpected group %#v", entries[0])
	}
	paired := group.Entries()[0]
	files := paired.Files()
	if len(files) != 2 || files[0].FullName != "a.wav" || files[1].FullName != "a.par" {
		t.Fatalf("expected audio first then transcript, got %+v", files)
	}
	if paired.StageOfKind(pipeline.KindASR).State() != pipeline.StateSkipped {
		t.Fatal("expected ASR skipped for paired pipeline")
	}
	if paired.Group() != group {
		t.Fatal("expected group back-reference")
	}
}

func TestProcessStereoAsksAndKeepsBothChannels(t *testing.T) {
	h := newHarness(t, ingest.SplitPending)
	path := filepath.Join(h.dir, "rec.wav")
	testsupport.WriteWAV(t, path, testsupport.WAVSpec{Channels: 2})

	entries := h.process(t, path)
	if h.asked != 1 || h.in.Split().Choice() != ingest.SplitAsked {
		t.Fatalf("expected prompt asked once, got asked=%d choice=%s", h.asked, h.in.Split().Choice())
	}
	group, ok := entries[0].(*pipeline.Group)
	if !ok || group.Path() != "rec_dir/" || group.Len() != 2 {
		t.Fatalf("unexpected entries %#v", entries)
	}
	for i, child := range group.Entries() {
		file, _ := child.File(0)
		want := []string{"rec_1.wav", "rec_2.wav"}[i]
		if file.FullName != want {
			t.Fatalf("child %d file %s, want %s", i, file.FullName, want)
		}
		info, err := ingest.ReadWAVInfo(file.Path)
		if err != nil || info.Channels != 1 {
			t.Fatalf("expected mono channel file, got %+v %v", info, err)
		}
	}
}

func TestProcessStereoWithSecondChoice(t *testing.T) {
	h := newHarness(t, ingest.SplitSecond)
	path := filepath.Join(h.dir, "rec.wav")
	testsupport.WriteWAV(t, path, testsupport.WAVSpec{Channels: 2})

	entries := h.process(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected a single pipeline, got %d", len(entries))
	}
	p, ok := entries[0].(*pipeline.Pipeline)
	if !ok {
		t.Fatalf("expected pipeline, got %T", entries[0])
	}
	if file, _ := p.File(0); file.FullName != "rec_2.wav" {
		t.Fatalf("expected second channel, got %s", file.FullName)
	}
	if h.asked != 0 {
		t.Fatal("expected no prompt when the choice is known")
	}
}

func TestCheckFilesDropsUnchosenChannel(t *testing.T) {
	reg := registry.New()
	ids := pipeline.NewIDGenerator(0)
	group := pipeline.NewGroup(1, "rec_dir/")
	for i, name := range []string{"rec_1.wav", "rec_2.wav"} {
		p := pipeline.New(int64(10+i), pipeline.DefaultTemplate(), ids, "deu-DE", "Google")
		p.AddFile(pipeline.FileRef{FullName: name, Online: true})
		p.ChangeState(pipeline.StateQueued)
		group.Add(p)
	}
	if err := reg.Add(group, false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if n := ingest.CheckFiles(reg, ingest.SplitBoth); n != 0 {
		t.Fatalf("expected BOTH to keep everything, removed %d", n)
	}
	if n := ingest.CheckFiles(reg, ingest.SplitFirst); n != 1 {
		t.Fatalf("expected one removal, got %d", n)
	}
	entries := reg.Entries()
	if len(entries) != 1 || entries[0].ID() != 10 {
		t.Fatalf("expected first channel promoted, got %v", entries)
	}
}

func TestProcessUnrelatedTranscriptBecomesOwnPipeline(t *testing.T) {
	h := newHarness(t, ingest.SplitPending)
	wav := filepath.Join(h.dir, "rec.wav")
	testsupport.WriteWAV(t, wav, testsupport.WAVSpec{})
	entries := h.process(t, wav)
	if err := h.reg.Add(entries[0], false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	other := filepath.Join(h.dir, "other.txt")
	testsupport.WriteText(t, other, "hallo welt\n")
	got := h.process(t, other)
	if len(got) != 1 {
		t.Fatalf("expected a new entry for the unmatched transcript, got %d", len(got))
	}
	if err := h.reg.Add(got[0], false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := len(h.reg.Pipelines()); n != 2 {
		t.Fatalf("expected 2 pipelines, got %d", n)
	}

	audio := entries[0].(*pipeline.Pipeline)
	if len(audio.Files()) != 1 {
		t.Fatalf("audio pipeline gained files: %+v", audio.Files())
	}
	if asr := audio.StageOfKind(pipeline.KindASR); asr.State() != pipeline.StatePending || !asr.Enabled() {
		t.Fatalf("expected ASR untouched, got %s enabled=%v", asr.State(), asr.Enabled())
	}
}

func TestProcessThreeChannelsDropsOnlyUnchosenChannel(t *testing.T) {
	cases := []struct {
		choice ingest.SplitChoice
		want   []string
	}{
		{ingest.SplitFirst, []string{"rec_1.wav", "rec_3.wav"}},
		{ingest.SplitSecond, []string{"rec_2.wav", "rec_3.wav"}},
		{ingest.SplitBoth, []string{"rec_1.wav", "rec_2.wav", "rec_3.wav"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.choice), func(t *testing.T) {
			h := newHarness(t, tc.choice)
			path := filepath.Join(h.dir, "rec.wav")
			testsupport.WriteWAV(t, path, testsupport.WAVSpec{Channels: 3})

			entries := h.process(t, path)
			if len(entries) != 1 {
				t.Fatalf("expected one group, got %d entries", len(entries))
			}
			group, ok := entries[0].(*pipeline.Group)
			if !ok || group.Path() != "rec_dir/" {
				t.Fatalf("unexpected entries %#v", entries)
			}
			children := group.Entries()
			if len(children) != len(tc.want) {
				t.Fatalf("expected %d channels kept, got %d", len(tc.want), len(children))
			}
			for i, child := range children {
				file, _ := child.File(0)
				if file.FullName != tc.want[i] {
					t.Fatalf("child %d file %s, want %s", i, file.FullName, tc.want[i])
				}
			}
		})
	}
}

func TestProcessDirectoryTranscriptAttachesToQueuedAudio(t *testing.T) {
	h := newHarness(t, ingest.SplitPending)
	wav := filepath.Join(h.dir, "rec.wav")
	testsupport.WriteWAV(t, wav, testsupport.WAVSpec{})
	entries := h.process(t, wav)
	if err := h.reg.Add(entries[0], false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	late := filepath.Join(h.dir, "late")
	testsupport.WriteText(t, filepath.Join(late, "rec.par"), "ORT: 0 hallo\n")
	testsupport.WriteWAV(t, filepath.Join(late, "other.wav"), testsupport.WAVSpec{Frames: 32})

	got := h.process(t, late)
	if len(got) != 1 {
		t.Fatalf("expected only the unrelated audio, got %d entries", len(got))
	}
	other, ok := got[0].(*pipeline.Pipeline)
	if !ok {
		t.Fatalf("expected a single pipeline, got %T", got[0])
	}
	if file, _ := other.File(0); file.FullName != "other.wav" {
		t.Fatalf("unexpected pipeline file %s", file.FullName)
	}

	p := entries[0].(*pipeline.Pipeline)
	files := p.Files()
	if len(files) != 2 || files[1].FullName != "rec.par" {
		t.Fatalf("expected transcript attached, got %+v", files)
	}
	if asr := p.StageOfKind(pipeline.KindASR); asr.State() != pipeline.StateSkipped {
		t.Fatalf("expected ASR skipped, got %s", asr.State())
	}
}
