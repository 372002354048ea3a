package pipeline_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"speechflow/internal/pipeline"
	"speechflow/internal/services"
)

func TestEncodeDecodePreservesPipeline(t *testing.T) {
	tmpl := pipeline.DefaultTemplate()
	ids := pipeline.NewIDGenerator(10)
	p := pipeline.New(3, tmpl, ids, "eng-GB", "Watson")
	p.AddFile(pipeline.FileRef{FullName: "rec.wav", Size: 1024, Attributes: map[string]string{pipeline.AttrOriginalFileName: "rec.wav"}})
	p.AddFile(pipeline.FileRef{FullName: "rec.txt", Size: 5, Content: "hallo"})
	p.Stage(0).ChangeState(pipeline.StateFinished)
	p.Stage(1).ChangeState(pipeline.StateError)

	data, err := pipeline.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"schemaVersion":"1.0.0"`) {
		t.Fatalf("expected schema version in %s", data)
	}

	entry, err := pipeline.Decode(data, tmpl)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := entry.(*pipeline.Pipeline)
	if !ok {
		t.Fatalf("expected *Pipeline, got %T", entry)
	}
	if got.ID() != 3 || got.Language() != "eng-GB" || got.Provider() != "Watson" {
		t.Fatalf("unexpected pipeline header %d %s %s", got.ID(), got.Language(), got.Provider())
	}
	if got.State() != pipeline.StateError {
		t.Fatalf("expected derived ERROR state, got %s", got.State())
	}
	if got.Stage(1).ID() != p.Stage(1).ID() || got.Stage(1).Pipeline() != got {
		t.Fatal("expected stage ids and owner restored")
	}
	files := got.Files()
	if files[1].Content != "hallo" || files[0].Attributes[pipeline.AttrOriginalFileName] != "rec.wav" {
		t.Fatalf("unexpected files %+v", files)
	}
}

func TestDecodeGroup(t *testing.T) {
	tmpl := pipeline.DefaultTemplate()
	ids := pipeline.NewIDGenerator(0)
	g := pipeline.NewGroup(50, "rec_dir/")
	for i := int64(1); i <= 2; i++ {
		child := pipeline.New(50+i, tmpl, ids, "deu-DE", "Google")
		child.AddFile(pipeline.FileRef{FullName: "rec_1.wav"})
		g.Add(child)
	}
	data, err := pipeline.Encode(g)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	entry, err := pipeline.Decode(data, tmpl)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	group, ok := entry.(*pipeline.Group)
	if !ok || group.Path() != "rec_dir/" || group.Len() != 2 {
		t.Fatalf("unexpected group %#v", entry)
	}
	for _, child := range group.Entries() {
		if child.Group() != group {
			t.Fatal("expected child back-reference restored")
		}
	}
}

func TestDecodeRestoresInteractiveAndInFlightStages(t *testing.T) {
	raw := `{"schemaVersion":"1.2.0","entry":{"id":9,"type":"task","state":"PROCESSING","language":"deu-DE","provider":"Google",
	"files":[{"fullname":"a.wav","size":1,"type":"audio/wav","url":"","attributes":{},"createdAt":0}],
	"operations":[
	 {"id":1,"name":"Upload","state":"FINISHED","protocol":"","time":{"start":0,"duration":0},"enabled":true,"results":[]},
	 {"id":2,"name":"ASR","state":"FINISHED","protocol":"WARNING: quiet","time":{"start":0,"duration":0},"enabled":true,"results":[]},
	 {"id":3,"name":"OCTRA","state":"PROCESSING","protocol":"","time":{"start":0,"duration":0},"enabled":true,"results":[]},
	 {"id":4,"name":"MAUS","state":"PROCESSING","protocol":"","time":{"start":0,"duration":0},"enabled":true,"results":[]},
	 {"id":5,"name":"Emu WebApp","state":"PENDING","protocol":"","time":{"start":0,"duration":0},"enabled":true,"results":[]}]}}`

	entry, err := pipeline.Decode([]byte(raw), pipeline.DefaultTemplate())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := entry.(*pipeline.Pipeline)
	if p.Stage(2).State() != pipeline.StateReady {
		t.Fatalf("expected interactive PROCESSING without results to become READY, got %s", p.Stage(2).State())
	}
	if p.Stage(3).State() != pipeline.StatePending {
		t.Fatalf("expected in-flight provider stage reset to PENDING, got %s", p.Stage(3).State())
	}
	if p.State() != pipeline.StateReady {
		t.Fatalf("expected pipeline READY, got %s", p.State())
	}
	if d := p.Stage(1).Diagnostics(); len(d) != 1 || d[0].Message != "quiet" {
		t.Fatalf("expected protocol reparsed, got %+v", d)
	}
}

func TestDecodeRejectsMalformedRecords(t *testing.T) {
	tmpl := pipeline.DefaultTemplate()
	ids := pipeline.NewIDGenerator(0)
	p := pipeline.New(1, tmpl, ids, "deu-DE", "Google")
	p.AddFile(pipeline.FileRef{FullName: "a.wav"})
	good, err := pipeline.MarshalEntry(p)
	if err != nil {
		t.Fatalf("MarshalEntry: %v", err)
	}

	mutate := func(fn func(m map[string]any)) string {
		var m map[string]any
		if err := json.Unmarshal(good, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		fn(m)
		out, _ := json.Marshal(m)
		return string(out)
	}

	cases := map[string]string{
		"major version": `{"schemaVersion":"2.0.0","entry":` + string(good) + `}`,
		"no version":    `{"entry":` + string(good) + `}`,
		"bad json":      `{"schemaVersion":"1.0.0","entry":{`,
		"unknown type": `{"schemaVersion":"1.0.0","entry":` + mutate(func(m map[string]any) {
			m["type"] = "playlist"
		}) + `}`,
		"stage count": `{"schemaVersion":"1.0.0","entry":` + mutate(func(m map[string]any) {
			m["operations"] = m["operations"].([]any)[:4]
		}) + `}`,
		"stage name": `{"schemaVersion":"1.0.0","entry":` + mutate(func(m map[string]any) {
			m["operations"].([]any)[1].(map[string]any)["name"] = "OCTRA"
		}) + `}`,
		"no files": `{"schemaVersion":"1.0.0","entry":` + mutate(func(m map[string]any) {
			m["files"] = []any{}
		}) + `}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := pipeline.Decode([]byte(raw), tmpl); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
