package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"speechflow/internal/pipeline"
	"speechflow/internal/services"
)

func newPipeline(t *testing.T) (*pipeline.Pipeline, *[]pipeline.Event) {
	t.Helper()
	ids := pipeline.NewIDGenerator(0)
	p := pipeline.New(1, pipeline.DefaultTemplate(), ids, "deu-DE", "Google")
	p.AddFile(pipeline.FileRef{FullName: "rec.wav", Size: 44, Attributes: map[string]string{}})
	var events []pipeline.Event
	p.Subscribe(func(e pipeline.Event) { events = append(events, e) })
	return p, &events
}

func stateEvents(events []pipeline.Event, typ pipeline.EventType) []pipeline.Event {
	var out []pipeline.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestChangeStateEmitsOncePerChange(t *testing.T) {
	p, events := newPipeline(t)
	st := p.Stage(1)

	st.ChangeState(pipeline.StateProcessing)
	st.ChangeState(pipeline.StateProcessing)

	got := stateEvents(*events, pipeline.EventStageState)
	if len(got) != 1 {
		t.Fatalf("expected 1 stage event, got %d", len(got))
	}
	if got[0].StageID != st.ID() || got[0].Old != pipeline.StatePending || got[0].New != pipeline.StateProcessing {
		t.Fatalf("unexpected event %+v", got[0])
	}
}

func TestPipelineFinishesOnlyWithLastActiveStage(t *testing.T) {
	p, events := newPipeline(t)
	p.Stage(3).SetEnabled(false)
	p.Stage(4).Skip()

	for i := 0; i < 2; i++ {
		p.Stage(i).ChangeState(pipeline.StateFinished)
		if p.State() == pipeline.StateFinished {
			t.Fatalf("pipeline finished early after stage %d", i)
		}
	}
	if p.State() != pipeline.StateReady {
		t.Fatalf("expected READY between stages, got %s", p.State())
	}

	p.Stage(2).ChangeState(pipeline.StateFinished)
	if p.State() != pipeline.StateFinished {
		t.Fatalf("expected FINISHED after last enabled stage, got %s", p.State())
	}

	p.Stage(2).ChangeState(pipeline.StateFinished)
	finished := 0
	for _, e := range stateEvents(*events, pipeline.EventPipelineState) {
		if e.New == pipeline.StateFinished {
			finished++
		}
	}
	if finished != 1 {
		t.Fatalf("expected exactly one pipeline FINISHED event, got %d", finished)
	}
}

func TestStartRunsProviderAndFinishes(t *testing.T) {
	p, _ := newPipeline(t)
	var seen pipeline.RunRequest
	now := time.UnixMilli(1000)
	env := pipeline.Env{
		Language: pipeline.Language{Code: "deu-DE", ASR: "Google", Host: "https://bas.example/"},
		Runners: map[pipeline.Kind]pipeline.Runner{
			pipeline.KindUpload: pipeline.RunnerFunc(func(_ context.Context, req pipeline.RunRequest) pipeline.Outcome {
				seen = req
				now = now.Add(250 * time.Millisecond)
				return pipeline.Outcome{Results: []pipeline.FileRef{pipeline.FileRefFromURL("https://bas.example/data/rec.wav", "", "audio/wav", 0)}}
			}),
		},
		Credentials: []pipeline.Credential{{Name: "GoogleASR", Value: "secret"}},
		Now:         func() time.Time { return now },
	}

	st, ok := p.Start(context.Background(), env)
	if !ok || st.Kind() != pipeline.KindUpload {
		t.Fatalf("expected upload stage to start, got %v %v", st, ok)
	}
	if st.State() != pipeline.StateFinished {
		t.Fatalf("expected FINISHED, got %s", st.State())
	}
	if len(seen.Inputs) != 1 || seen.Inputs[0].FullName != "rec.wav" {
		t.Fatalf("unexpected inputs %+v", seen.Inputs)
	}
	if seen.Credential("GoogleASR") != "secret" {
		t.Fatal("expected credentials to be passed through")
	}
	if st.Time().Start != 1000 || st.Time().Duration != 250 {
		t.Fatalf("unexpected timing %+v", st.Time())
	}
	if last := st.LastResult(); last == nil || !last.Online {
		t.Fatalf("expected online result, got %+v", last)
	}
	if p.State() != pipeline.StateReady {
		t.Fatalf("expected pipeline READY after upload, got %s", p.State())
	}
}

func TestStartProviderFailureBecomesError(t *testing.T) {
	p, _ := newPipeline(t)
	p.Stage(0).ChangeState(pipeline.StateFinished)
	env := pipeline.Env{
		Runners: map[pipeline.Kind]pipeline.Runner{
			pipeline.KindASR: pipeline.RunnerFunc(func(context.Context, pipeline.RunRequest) pipeline.Outcome {
				return pipeline.Outcome{
					Protocol:   "bad signal",
					WebService: "GoogleASR",
					Err:        services.Wrap(services.ErrProvider, "bas", "run", "success=false", nil),
				}
			}),
		},
	}

	st, ok := p.Start(context.Background(), env)
	if !ok || st.Kind() != pipeline.KindASR {
		t.Fatalf("expected ASR to start")
	}
	if st.State() != pipeline.StateError {
		t.Fatalf("expected ERROR, got %s", st.State())
	}
	if st.Protocol() != "bad signal" {
		t.Fatalf("unexpected protocol %q", st.Protocol())
	}
	if st.WebService() != "GoogleASR" {
		t.Fatalf("unexpected web service %q", st.WebService())
	}
	if p.State() != pipeline.StateError {
		t.Fatalf("expected pipeline ERROR, got %s", p.State())
	}
	if _, ok := p.Start(context.Background(), env); ok {
		t.Fatal("expected no further stage to start after an error")
	}
}

func TestStartTransportErrorUsesMessage(t *testing.T) {
	p, _ := newPipeline(t)
	env := pipeline.Env{Runners: map[pipeline.Kind]pipeline.Runner{
		pipeline.KindUpload: pipeline.RunnerFunc(func(context.Context, pipeline.RunRequest) pipeline.Outcome {
			return pipeline.Outcome{Err: errors.New("connection refused")}
		}),
	}}
	st, _ := p.Start(context.Background(), env)
	if st.State() != pipeline.StateError || st.Protocol() != "connection refused" {
		t.Fatalf("unexpected stage %s %q", st.State(), st.Protocol())
	}
}

func TestInteractiveStageWaitsForOperator(t *testing.T) {
	p, _ := newPipeline(t)
	p.Stage(0).ChangeState(pipeline.StateFinished)
	p.Stage(1).ChangeState(pipeline.StateFinished)

	st, ok := p.Start(context.Background(), pipeline.Env{})
	if !ok || st.Kind() != pipeline.KindManualTranscription {
		t.Fatal("expected manual transcription to start")
	}
	if st.State() != pipeline.StateReady || p.State() != pipeline.StateReady {
		t.Fatalf("expected READY, got stage %s pipeline %s", st.State(), p.State())
	}
	if _, ok := p.Start(context.Background(), pipeline.Env{}); ok {
		t.Fatal("expected interactive READY stage to block Start")
	}

	result := pipeline.FileRefFromURL("https://bas.example/rec.par", "rec", "text/plain", 0)
	if err := st.CompleteInteractive(&result); err != nil {
		t.Fatalf("CompleteInteractive: %v", err)
	}
	if st.State() != pipeline.StateFinished || len(st.Results()) != 1 {
		t.Fatalf("unexpected stage after completion: %s %d", st.State(), len(st.Results()))
	}
	if err := p.Stage(1).CompleteInteractive(nil); !errors.Is(err, pipeline.ErrNotInteractive) {
		t.Fatalf("expected ErrNotInteractive, got %v", err)
	}
	if err := st.CompleteInteractive(nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for finished stage, got %v", err)
	}
}

func TestMissingRunnerFailsStage(t *testing.T) {
	p, _ := newPipeline(t)
	st, _ := p.Start(context.Background(), pipeline.Env{})
	if st.State() != pipeline.StateError {
		t.Fatalf("expected ERROR without runner, got %s", st.State())
	}
	if len(st.Diagnostics()) != 1 || st.Diagnostics()[0].Severity != pipeline.SeverityError {
		t.Fatalf("unexpected diagnostics %+v", st.Diagnostics())
	}
}

type deferredDispatcher struct {
	pending []func()
}

func (d *deferredDispatcher) Dispatch(call func() pipeline.Outcome, deliver func(pipeline.Outcome)) {
	d.pending = append(d.pending, func() { deliver(call()) })
}

func TestLaterStagesReceiveUploadResults(t *testing.T) {
	p, _ := newPipeline(t)
	p.AddFile(pipeline.FileRef{FullName: "rec.txt", Content: "hello"})
	upload := p.Stage(0)
	dispatcher := &deferredDispatcher{}
	var asrInputs []pipeline.FileRef
	env := pipeline.Env{
		Dispatcher: dispatcher,
		Runners: map[pipeline.Kind]pipeline.Runner{
			pipeline.KindUpload: pipeline.RunnerFunc(func(_ context.Context, req pipeline.RunRequest) pipeline.Outcome {
				out := pipeline.Outcome{}
				for _, in := range req.Inputs {
					out.Results = append(out.Results, pipeline.FileRefFromURL("https://bas.example/"+in.FullName, "", in.Type, 0))
				}
				return out
			}),
			pipeline.KindASR: pipeline.RunnerFunc(func(_ context.Context, req pipeline.RunRequest) pipeline.Outcome {
				asrInputs = req.Inputs
				return pipeline.Outcome{Results: []pipeline.FileRef{pipeline.FileRefFromURL("https://bas.example/rec.par", "rec", "", 0)}}
			}),
		},
	}

	p.Start(context.Background(), env)
	if upload.State() != pipeline.StateUploading || p.State() != pipeline.StateUploading {
		t.Fatalf("expected UPLOADING while call is outstanding, got %s/%s", upload.State(), p.State())
	}
	dispatcher.pending[0]()
	p.Start(context.Background(), env)
	dispatcher.pending[1]()

	if len(asrInputs) != 2 || asrInputs[0].URL != "https://bas.example/rec.wav" || asrInputs[1].URL != "https://bas.example/rec.txt" {
		t.Fatalf("unexpected ASR inputs %+v", asrInputs)
	}
}

func TestAttachTranscriptSkipsASR(t *testing.T) {
	p, _ := newPipeline(t)
	if !p.HasOnlyAudio() {
		t.Fatal("expected audio-only pipeline")
	}
	p.AttachTranscript(pipeline.FileRef{FullName: "rec.TextGrid"})

	asr := p.StageOfKind(pipeline.KindASR)
	if asr.Enabled() || asr.State() != pipeline.StateSkipped {
		t.Fatalf("expected ASR disabled and SKIPPED, got enabled=%v state=%s", asr.Enabled(), asr.State())
	}
	if len(p.Files()) != 2 {
		t.Fatalf("expected 2 files, got %d", len(p.Files()))
	}
}
