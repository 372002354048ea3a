package pipeline

import (
	"context"
	"errors"
	"fmt"

	"speechflow/internal/services"
)

// ErrNotInteractive is returned when an operator completion targets a stage
// that is driven by a provider.
var ErrNotInteractive = errors.New("stage is not interactive")

// Timing records when a stage started and how long its call took, in unix ms.
type Timing struct {
	Start    int64 `json:"start"`
	Duration int64 `json:"duration"`
}

// stageOwner is the read-only view a stage has of its pipeline.
type stageOwner interface {
	ID() int64
	Stages() []*Stage
	stageStateChanged(s *Stage, old, next State, following *Stage)
	emit(Event)
}

// Stage is one step of a pipeline.
type Stage struct {
	id          int64
	kind        Kind
	state       State
	enabled     bool
	results     []FileRef
	protocol    string
	diagnostics []Diagnostic
	timing      Timing
	webService  string

	owner stageOwner
}

func newStage(id int64, kind Kind, enabled bool, owner stageOwner) *Stage {
	return &Stage{
		id:          id,
		kind:        kind,
		state:       StatePending,
		enabled:     enabled,
		diagnostics: []Diagnostic{},
		owner:       owner,
	}
}

func (s *Stage) ID() int64 { return s.id }

func (s *Stage) Kind() Kind { return s.kind }

func (s *Stage) State() State { return s.state }

func (s *Stage) Enabled() bool { return s.enabled }

func (s *Stage) Protocol() string { return s.protocol }

func (s *Stage) Time() Timing { return s.timing }

func (s *Stage) WebService() string { return s.webService }

// Diagnostics returns the parsed protocol.
func (s *Stage) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(s.diagnostics))
	copy(out, s.diagnostics)
	return out
}

// Results returns a copy of the result list.
func (s *Stage) Results() []FileRef {
	out := make([]FileRef, len(s.results))
	for i, r := range s.results {
		out[i] = r.Clone()
	}
	return out
}

// LastResult returns a copy of the newest result, or nil.
func (s *Stage) LastResult() *FileRef {
	if len(s.results) == 0 {
		return nil
	}
	last := s.results[len(s.results)-1].Clone()
	return &last
}

// UpdateResult mutates the result at index in place.
func (s *Stage) UpdateResult(index int, fn func(*FileRef)) bool {
	if index < 0 || index >= len(s.results) {
		return false
	}
	fn(&s.results[index])
	return true
}

// IsFinished reports whether the stage reached FINISHED.
func (s *Stage) IsFinished() bool { return s.state == StateFinished }

// Pipeline returns the owning pipeline.
func (s *Stage) Pipeline() *Pipeline {
	p, _ := s.owner.(*Pipeline)
	return p
}

// Position is the index of the stage within its pipeline.
func (s *Stage) Position() int {
	if s.owner == nil {
		return -1
	}
	for i, sibling := range s.owner.Stages() {
		if sibling.id == s.id {
			return i
		}
	}
	return -1
}

func (s *Stage) sibling(offset int) *Stage {
	pos := s.Position()
	if pos < 0 {
		return nil
	}
	siblings := s.owner.Stages()
	idx := pos + offset
	if idx < 0 || idx >= len(siblings) {
		return nil
	}
	return siblings[idx]
}

// Previous returns the stage before this one, or nil.
func (s *Stage) Previous() *Stage { return s.sibling(-1) }

// Next returns the stage after this one, or nil.
func (s *Stage) Next() *Stage { return s.sibling(1) }

// NextActive returns the first following stage that is enabled and not
// SKIPPED, or nil.
func (s *Stage) NextActive() *Stage {
	for next := s.Next(); next != nil; next = next.Next() {
		if next.enabled && next.state != StateSkipped {
			return next
		}
	}
	return nil
}

// ChangeState moves the stage to state. Listeners are notified only when the
// state actually changes. When no active stage follows and the stage
// finished, the pipeline finishes too.
func (s *Stage) ChangeState(state State) {
	old := s.state
	s.state = state
	if old != state && s.owner != nil {
		s.owner.emit(Event{
			Type:       EventStageState,
			PipelineID: s.owner.ID(),
			StageID:    s.id,
			Position:   s.Position(),
			Kind:       s.kind,
			Old:        old,
			New:        state,
		})
	}
	if s.owner == nil {
		return
	}
	following := s.NextActive()
	if old != state || (state == StateFinished && following == nil) {
		s.owner.stageStateChanged(s, old, state, following)
	}
}

// SetEnabled sets the enabled flag and notifies listeners when it changes.
func (s *Stage) SetEnabled(enabled bool) {
	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	if s.owner != nil {
		s.owner.emit(Event{
			Type:       EventStageEnabled,
			PipelineID: s.owner.ID(),
			StageID:    s.id,
			Position:   s.Position(),
			Kind:       s.kind,
			Old:        s.state,
			New:        s.state,
			Enabled:    enabled,
		})
	}
}

// Skip disables the stage and moves it to SKIPPED.
func (s *Stage) Skip() {
	s.SetEnabled(false)
	s.ChangeState(StateSkipped)
}

func (s *Stage) setProtocol(protocol string) {
	s.protocol = protocol
	s.diagnostics = ParseDiagnostics(protocol)
}

// CompleteInteractive records an operator completion of an interactive
// stage. The optional result is appended before the stage finishes.
func (s *Stage) CompleteInteractive(result *FileRef) error {
	if !s.kind.Interactive() {
		return services.Wrap(ErrNotInteractive, "pipeline", "complete", fmt.Sprintf("stage %d (%s)", s.id, s.kind), nil)
	}
	if s.state != StateReady && s.state != StateProcessing {
		return services.Wrap(services.ErrValidation, "pipeline", "complete",
			fmt.Sprintf("stage %d is %s, expected READY or PROCESSING", s.id, s.state), nil)
	}
	if result != nil {
		s.results = append(s.results, result.Clone())
	}
	s.ChangeState(StateFinished)
	return nil
}

func (s *Stage) upstream() []UpstreamStage {
	siblings := s.owner.Stages()
	out := make([]UpstreamStage, len(siblings))
	for i, sibling := range siblings {
		out[i] = UpstreamStage{
			Kind:       sibling.kind,
			Enabled:    sibling.enabled,
			State:      sibling.state,
			LastResult: sibling.LastResult(),
		}
	}
	return out
}

// start performs the stage. Interactive kinds only switch to READY; all
// others dispatch exactly one runner call whose outcome decides between
// FINISHED and ERROR.
func (s *Stage) start(ctx context.Context, env Env, inputs []FileRef) {
	if s.kind.Interactive() {
		s.setProtocol("")
		s.ChangeState(StateReady)
		return
	}

	s.setProtocol("")
	started := env.now()
	s.timing = Timing{Start: started.UnixMilli()}

	runner := env.Runners[s.kind]
	if runner == nil {
		s.setProtocol(fmt.Sprintf("ERROR: no runner configured for %s", s.kind))
		s.ChangeState(StateError)
		return
	}

	if s.kind == KindUpload {
		s.ChangeState(StateUploading)
	} else {
		s.ChangeState(StateProcessing)
	}

	copied := make([]FileRef, len(inputs))
	for i, in := range inputs {
		copied[i] = in.Clone()
	}
	req := RunRequest{
		PipelineID:  s.owner.ID(),
		StageID:     s.id,
		Kind:        s.kind,
		Inputs:      copied,
		Stages:      s.upstream(),
		Language:    env.Language,
		Credentials: append([]Credential(nil), env.Credentials...),
	}
	ctx = services.WithPipelineID(ctx, req.PipelineID)
	ctx = services.WithStageID(ctx, s.id)
	ctx = services.WithStage(ctx, s.kind.Slug())

	env.dispatcher().Dispatch(
		func() Outcome { return runner.Run(ctx, req) },
		func(outcome Outcome) { s.complete(outcome, env) },
	)
}

func (s *Stage) complete(outcome Outcome, env Env) {
	if !s.state.IsRunning() {
		return
	}
	s.timing.Duration = env.now().UnixMilli() - s.timing.Start
	if outcome.WebService != "" {
		s.webService = outcome.WebService
	}
	protocol := outcome.Protocol
	if outcome.Err != nil || len(outcome.Results) == 0 {
		if protocol == "" {
			if outcome.Err != nil {
				protocol = outcome.Err.Error()
			} else {
				protocol = "provider returned no result"
			}
		}
		s.setProtocol(protocol)
		s.ChangeState(StateError)
		return
	}
	s.setProtocol(protocol)
	for _, result := range outcome.Results {
		s.results = append(s.results, result.Clone())
	}
	s.ChangeState(StateFinished)
}
