package pipeline

import (
	"context"
	"fmt"
)

// EventType classifies pipeline events.
type EventType string

const (
	EventStageState    EventType = "stage_state"
	EventStageEnabled  EventType = "stage_enabled"
	EventPipelineState EventType = "pipeline_state"
	EventFilesChanged  EventType = "files_changed"
)

// Event is emitted to pipeline subscribers. Events of one pipeline are
// delivered in the order they happened.
type Event struct {
	Type       EventType
	PipelineID int64
	StageID    int64
	Position   int
	Kind       Kind
	Old        State
	New        State
	Enabled    bool
}

// Listener receives pipeline events.
type Listener func(Event)

// Entry is a top-level registry entry: a *Pipeline or a *Group.
type Entry interface {
	ID() int64
	entry()
}

// TemplateStage is one slot of a Template.
type TemplateStage struct {
	Kind    Kind
	Enabled bool
}

// Template describes the stage chain every new pipeline is cloned from.
type Template struct {
	stages []TemplateStage
}

// NewTemplate builds a template from kinds, all enabled.
func NewTemplate(kinds ...Kind) *Template {
	t := &Template{stages: make([]TemplateStage, len(kinds))}
	for i, kind := range kinds {
		t.stages[i] = TemplateStage{Kind: kind, Enabled: true}
	}
	return t
}

// DefaultTemplate is Upload, ASR, ManualTranscription, ForcedAlignment,
// PhoneticDetail.
func DefaultTemplate() *Template {
	return NewTemplate(Kinds()...)
}

// Stages returns a copy of the template slots.
func (t *Template) Stages() []TemplateStage {
	out := make([]TemplateStage, len(t.stages))
	copy(out, t.stages)
	return out
}

func (t *Template) Len() int { return len(t.stages) }

// Kind returns the kind at position.
func (t *Template) Kind(position int) Kind { return t.stages[position].Kind }

// Enabled returns the enabled flag at position.
func (t *Template) Enabled(position int) bool { return t.stages[position].Enabled }

// Position returns the first position holding kind, or -1.
func (t *Template) Position(kind Kind) int {
	for i, st := range t.stages {
		if st.Kind == kind {
			return i
		}
	}
	return -1
}

// Pipeline chains stages over a set of input files.
type Pipeline struct {
	id        int64
	state     State
	files     []FileRef
	stages    []*Stage
	language  string
	provider  string
	group     *Group
	listeners []Listener
}

// New creates a pipeline in PENDING with stages cloned from tmpl. Stage ids
// come from stageIDs.
func New(id int64, tmpl *Template, stageIDs *IDGenerator, language, provider string) *Pipeline {
	p := &Pipeline{
		id:       id,
		state:    StatePending,
		language: language,
		provider: provider,
	}
	p.stages = make([]*Stage, len(tmpl.stages))
	for i, slot := range tmpl.stages {
		p.stages[i] = newStage(stageIDs.Next(), slot.Kind, slot.Enabled, p)
	}
	return p
}

func (p *Pipeline) entry() {}

func (p *Pipeline) ID() int64 { return p.id }

func (p *Pipeline) State() State { return p.state }

func (p *Pipeline) Language() string { return p.language }

// Provider is the ASR engine selected for this pipeline.
func (p *Pipeline) Provider() string { return p.provider }

// Group returns the owning group, or nil for top-level pipelines.
func (p *Pipeline) Group() *Group { return p.group }

// Stages returns the stages in chain order. The slice is a copy; the
// stages are live.
func (p *Pipeline) Stages() []*Stage {
	out := make([]*Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Stage returns the stage at position, or nil.
func (p *Pipeline) Stage(position int) *Stage {
	if position < 0 || position >= len(p.stages) {
		return nil
	}
	return p.stages[position]
}

// StageByID returns the stage with id, or nil.
func (p *Pipeline) StageByID(id int64) *Stage {
	for _, st := range p.stages {
		if st.id == id {
			return st
		}
	}
	return nil
}

// StageOfKind returns the first stage of kind, or nil.
func (p *Pipeline) StageOfKind(kind Kind) *Stage {
	for _, st := range p.stages {
		if st.kind == kind {
			return st
		}
	}
	return nil
}

// Files returns copies of the input files.
func (p *Pipeline) Files() []FileRef {
	out := make([]FileRef, len(p.files))
	for i, f := range p.files {
		out[i] = f.Clone()
	}
	return out
}

// File returns a copy of the file at index.
func (p *Pipeline) File(index int) (FileRef, bool) {
	if index < 0 || index >= len(p.files) {
		return FileRef{}, false
	}
	return p.files[index].Clone(), true
}

// AddFile appends an input file.
func (p *Pipeline) AddFile(file FileRef) {
	p.files = append(p.files, file.Clone())
	p.emit(Event{Type: EventFilesChanged, PipelineID: p.id, Old: p.state, New: p.state})
}

// SetFile replaces the input file at index.
func (p *Pipeline) SetFile(index int, file FileRef) error {
	if index < 0 || index >= len(p.files) {
		return fmt.Errorf("file index %d out of range (%d files)", index, len(p.files))
	}
	p.files[index] = file.Clone()
	p.emit(Event{Type: EventFilesChanged, PipelineID: p.id, Old: p.state, New: p.state})
	return nil
}

// SetLanguage changes language and provider selection.
func (p *Pipeline) SetLanguage(language, provider string) {
	p.language = language
	if provider != "" {
		p.provider = provider
	}
}

// ChangeState sets the pipeline state. Repeated calls with the same state
// are no-ops.
func (p *Pipeline) ChangeState(state State) {
	if p.state == state {
		return
	}
	old := p.state
	p.state = state
	p.emit(Event{Type: EventPipelineState, PipelineID: p.id, Position: -1, Old: old, New: state})
}

// Subscribe registers listener for every stage and pipeline event. The
// returned function removes it.
func (p *Pipeline) Subscribe(listener Listener) func() {
	p.listeners = append(p.listeners, listener)
	idx := len(p.listeners) - 1
	return func() {
		if idx < len(p.listeners) {
			p.listeners[idx] = nil
		}
	}
}

func (p *Pipeline) emit(event Event) {
	for _, l := range p.listeners {
		if l != nil {
			l(event)
		}
	}
}

func (p *Pipeline) stageStateChanged(s *Stage, _ State, next State, following *Stage) {
	switch next {
	case StateUploading, StateProcessing, StateError:
		p.ChangeState(next)
	case StateReady:
		p.ChangeState(StateReady)
	case StateFinished:
		if following == nil {
			p.ChangeState(StateFinished)
		} else {
			p.ChangeState(StateReady)
		}
	}
}

// ActiveStage returns the first enabled, non-SKIPPED stage that has not
// finished, or nil.
func (p *Pipeline) ActiveStage() *Stage {
	for _, st := range p.stages {
		if !st.enabled || st.state == StateSkipped || st.state == StateFinished {
			continue
		}
		return st
	}
	return nil
}

// NextStartable returns the stage Start would run: the first enabled,
// non-SKIPPED stage that is PENDING, or READY and not interactive. It
// returns nil when an earlier stage is still running, failed or awaits the
// operator.
func (p *Pipeline) NextStartable() *Stage {
	st := p.ActiveStage()
	if st == nil {
		return nil
	}
	if st.state == StatePending || (st.state == StateReady && !st.kind.Interactive()) {
		return st
	}
	return nil
}

// Start runs the next startable stage and returns it.
func (p *Pipeline) Start(ctx context.Context, env Env) (*Stage, bool) {
	st := p.NextStartable()
	if st == nil {
		return nil, false
	}
	st.start(ctx, env, p.inputsFor(st.Position()))
	return st, true
}

// inputsFor returns the pipeline files for the first stage and the upload
// results (falling back to the files) for every later stage.
func (p *Pipeline) inputsFor(position int) []FileRef {
	if position <= 0 {
		return p.Files()
	}
	if upload := p.StageOfKind(KindUpload); upload != nil && len(upload.results) > 0 {
		return upload.Results()
	}
	return p.Files()
}

// HasOnlyAudio reports whether the pipeline carries exactly one file and it
// is a WAV.
func (p *Pipeline) HasOnlyAudio() bool {
	return len(p.files) == 1 && p.files[0].IsWAV()
}

// AttachTranscript appends a transcript to an audio-only pipeline and skips
// the ASR stage, which is no longer needed.
func (p *Pipeline) AttachTranscript(file FileRef) {
	p.AddFile(file)
	if len(p.files) > 1 {
		if asr := p.StageOfKind(KindASR); asr != nil && asr.state == StatePending {
			asr.Skip()
		}
	}
}

// Clone returns a pipeline with new id, the same files, language and stage
// enabled flags, and fresh PENDING stages.
func (p *Pipeline) Clone(id int64, stageIDs *IDGenerator) *Pipeline {
	clone := &Pipeline{
		id:       id,
		state:    StatePending,
		files:    p.Files(),
		language: p.language,
		provider: p.provider,
	}
	clone.stages = make([]*Stage, len(p.stages))
	for i, st := range p.stages {
		clone.stages[i] = newStage(stageIDs.Next(), st.kind, st.enabled, clone)
	}
	return clone
}
