package pipeline

import (
	"context"
	"time"
)

// Language selects the provider host and engines for a pipeline.
type Language struct {
	Code         string
	ASR          string
	Host         string
	MausLanguage string
}

// Credential is an opaque name/value pair passed through to providers.
type Credential struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UpstreamStage is a read-only copy of a sibling stage handed to runners.
type UpstreamStage struct {
	Kind       Kind
	Enabled    bool
	State      State
	LastResult *FileRef
}

// RunRequest carries everything a Runner needs. It holds copies so a runner
// may execute on another goroutine without touching pipeline state.
type RunRequest struct {
	PipelineID  int64
	StageID     int64
	Kind        Kind
	Inputs      []FileRef
	Stages      []UpstreamStage
	Language    Language
	Credentials []Credential
}

// Credential returns the value of the named credential.
func (r RunRequest) Credential(name string) string {
	for _, c := range r.Credentials {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Outcome is the result of one provider call.
type Outcome struct {
	Results    []FileRef
	Protocol   string
	WebService string
	Err        error
}

// Runner performs the outbound call for one stage kind.
type Runner interface {
	Run(ctx context.Context, req RunRequest) Outcome
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req RunRequest) Outcome

func (f RunnerFunc) Run(ctx context.Context, req RunRequest) Outcome { return f(ctx, req) }

// Dispatcher executes call off the owner's context and hands the outcome to
// deliver on the owner's context.
type Dispatcher interface {
	Dispatch(call func() Outcome, deliver func(Outcome))
}

// InlineDispatcher runs the call and delivers synchronously.
type InlineDispatcher struct{}

func (InlineDispatcher) Dispatch(call func() Outcome, deliver func(Outcome)) {
	deliver(call())
}

// Env is supplied by the scheduler when it starts a stage.
type Env struct {
	Language    Language
	Runners     map[Kind]Runner
	Dispatcher  Dispatcher
	Credentials []Credential
	Now         func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Env) dispatcher() Dispatcher {
	if e.Dispatcher != nil {
		return e.Dispatcher
	}
	return InlineDispatcher{}
}
