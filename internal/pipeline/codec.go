package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"speechflow/internal/services"
)

// SchemaVersion is written into every persisted record. Records are
// accepted when their version satisfies ^SchemaVersion.
const SchemaVersion = "1.0.0"

const (
	entryTypePipeline = "task"
	entryTypeGroup    = "folder"
)

type stageRecord struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	State      State     `json:"state"`
	Protocol   string    `json:"protocol"`
	Time       Timing    `json:"time"`
	Enabled    bool      `json:"enabled"`
	Results    []FileRef `json:"results"`
	WebService string    `json:"webService"`
}

type pipelineRecord struct {
	ID         int64         `json:"id"`
	Type       string        `json:"type"`
	State      State         `json:"state,omitempty"`
	Files      []FileRef     `json:"files"`
	Operations []stageRecord `json:"operations"`
	Language   string        `json:"language"`
	Provider   string        `json:"provider"`
}

type groupRecord struct {
	ID      int64            `json:"id"`
	Type    string           `json:"type"`
	Path    string           `json:"path"`
	Entries []pipelineRecord `json:"entries"`
}

type envelope struct {
	SchemaVersion string          `json:"schemaVersion"`
	Entry         json.RawMessage `json:"entry"`
}

// IsCompatible reports whether a persisted schema version can be decoded.
func IsCompatible(version string) (bool, error) {
	constraint, err := semver.NewConstraint("^" + SchemaVersion)
	if err != nil {
		return false, fmt.Errorf("invalid schema version: %w", err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid record version %q: %w", version, err)
	}
	return constraint.Check(v), nil
}

func recordFromStage(s *Stage) stageRecord {
	results := s.Results()
	for i := range results {
		if results[i].IsWAV() {
			results[i].Content = ""
		}
	}
	return stageRecord{
		ID:         s.id,
		Name:       s.kind.Name(),
		State:      s.state,
		Protocol:   s.protocol,
		Time:       s.timing,
		Enabled:    s.enabled,
		Results:    results,
		WebService: s.webService,
	}
}

func recordFromPipeline(p *Pipeline) pipelineRecord {
	rec := pipelineRecord{
		ID:         p.id,
		Type:       entryTypePipeline,
		State:      p.state,
		Files:      p.Files(),
		Operations: make([]stageRecord, len(p.stages)),
		Language:   p.language,
		Provider:   p.provider,
	}
	for i := range rec.Files {
		if rec.Files[i].IsWAV() {
			rec.Files[i].Content = ""
		}
	}
	for i, st := range p.stages {
		rec.Operations[i] = recordFromStage(st)
	}
	return rec
}

// MarshalEntry serializes an entry without the version envelope.
func MarshalEntry(entry Entry) (json.RawMessage, error) {
	switch e := entry.(type) {
	case *Pipeline:
		return json.Marshal(recordFromPipeline(e))
	case *Group:
		rec := groupRecord{ID: e.id, Type: entryTypeGroup, Path: e.path, Entries: make([]pipelineRecord, len(e.entries))}
		for i, child := range e.entries {
			rec.Entries[i] = recordFromPipeline(child)
		}
		return json.Marshal(rec)
	default:
		return nil, fmt.Errorf("unsupported entry type %T", entry)
	}
}

// Encode serializes entry inside a versioned envelope.
func Encode(entry Entry) ([]byte, error) {
	raw, err := MarshalEntry(entry)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{SchemaVersion: SchemaVersion, Entry: raw})
}

func invalid(format string, args ...any) error {
	return services.Wrap(services.ErrValidation, "pipeline", "decode", fmt.Sprintf(format, args...), nil)
}

// Decode parses a versioned record and rebuilds the entry against tmpl.
// Malformed records are rejected with services.ErrValidation.
func Decode(data []byte, tmpl *Template) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "decode", "malformed record", err)
	}
	if env.SchemaVersion == "" {
		return nil, invalid("record has no schemaVersion")
	}
	ok, err := IsCompatible(env.SchemaVersion)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "decode", "bad schemaVersion", err)
	}
	if !ok {
		return nil, invalid("schemaVersion %s is not compatible with %s", env.SchemaVersion, SchemaVersion)
	}
	if len(env.Entry) == 0 {
		return nil, invalid("record has no entry")
	}
	return DecodeEntry(env.Entry, tmpl)
}

// DecodeEntry rebuilds an entry from its bare serialized form.
func DecodeEntry(raw json.RawMessage, tmpl *Template) (Entry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "decode", "malformed entry", err)
	}
	switch head.Type {
	case entryTypePipeline:
		var rec pipelineRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "decode", "malformed pipeline", err)
		}
		return pipelineFromRecord(rec, tmpl)
	case entryTypeGroup:
		var rec groupRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "decode", "malformed group", err)
		}
		if rec.ID <= 0 {
			return nil, invalid("group id must be positive")
		}
		group := NewGroup(rec.ID, rec.Path)
		for _, childRec := range rec.Entries {
			child, err := pipelineFromRecord(childRec, tmpl)
			if err != nil {
				return nil, fmt.Errorf("group %d: %w", rec.ID, err)
			}
			group.Add(child)
		}
		return group, nil
	default:
		return nil, invalid("unknown entry type %q", head.Type)
	}
}

func pipelineFromRecord(rec pipelineRecord, tmpl *Template) (*Pipeline, error) {
	if rec.Type != entryTypePipeline {
		return nil, invalid("pipeline %d has type %q", rec.ID, rec.Type)
	}
	if rec.ID <= 0 {
		return nil, invalid("pipeline id must be positive")
	}
	if len(rec.Files) == 0 {
		return nil, invalid("pipeline %d has no files", rec.ID)
	}
	if len(rec.Operations) != tmpl.Len() {
		return nil, invalid("pipeline %d has %d stages, expected %d", rec.ID, len(rec.Operations), tmpl.Len())
	}
	for i, f := range rec.Files {
		if f.FullName == "" {
			return nil, invalid("pipeline %d file %d has no name", rec.ID, i)
		}
	}

	p := &Pipeline{
		id:       rec.ID,
		files:    rec.Files,
		language: rec.Language,
		provider: rec.Provider,
		stages:   make([]*Stage, len(rec.Operations)),
	}
	for i, sr := range rec.Operations {
		st, err := stageFromRecord(sr, tmpl.Kind(i), p)
		if err != nil {
			return nil, fmt.Errorf("pipeline %d stage %d: %w", rec.ID, i, err)
		}
		p.stages[i] = st
	}

	if rec.State == StateQueued {
		p.state = StateQueued
	} else {
		if rec.State != "" {
			if _, err := ParseState(string(rec.State)); err != nil {
				return nil, invalid("pipeline %d: %v", rec.ID, err)
			}
		}
		p.state = p.deriveState()
	}
	return p, nil
}

var errStageName = errors.New("stage name does not match template")

func stageFromRecord(rec stageRecord, want Kind, owner *Pipeline) (*Stage, error) {
	kind, ok := KindByName(rec.Name)
	if !ok {
		return nil, invalid("unknown stage name %q", rec.Name)
	}
	if kind != want {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "decode",
			fmt.Sprintf("got %q, expected %q", rec.Name, want.Name()), errStageName)
	}
	if rec.ID <= 0 {
		return nil, invalid("stage id must be positive")
	}
	state, err := ParseState(string(rec.State))
	if err != nil || state == StateQueued {
		return nil, invalid("stage %d has invalid state %q", rec.ID, rec.State)
	}

	st := &Stage{
		id:         rec.ID,
		kind:       kind,
		state:      state,
		enabled:    rec.Enabled,
		results:    rec.Results,
		timing:     rec.Time,
		webService: rec.WebService,
		owner:      owner,
	}
	st.setProtocol(rec.Protocol)

	if state == StateProcessing && kind.Interactive() {
		if len(st.results) > 0 {
			st.state = StateFinished
		} else {
			st.state = StateReady
		}
	}
	// A provider call that was in flight when the process stopped is lost;
	// the stage is offered to the scheduler again.
	if state.IsRunning() && !kind.Interactive() {
		st.state = StatePending
	}
	return st, nil
}

// deriveState computes the pipeline state from its stages.
func (p *Pipeline) deriveState() State {
	active := p.ActiveStage()
	if active == nil {
		return StateFinished
	}
	if active.state != StatePending {
		return active.state
	}
	for _, st := range p.stages {
		if st == active {
			break
		}
		if st.state == StateFinished {
			return StateReady
		}
	}
	return StatePending
}
