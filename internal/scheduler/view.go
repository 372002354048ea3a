package scheduler

import (
	"speechflow/internal/pipeline"
)

// FileView is the API shape of a file reference.
type FileView struct {
	Name      string `json:"name"`
	FullName  string `json:"fullname"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	URL       string `json:"url,omitempty"`
	Online    bool   `json:"online"`
	Local     bool   `json:"local"`
	CreatedAt int64  `json:"createdAt"`
}

// StageView is the API shape of a stage.
type StageView struct {
	ID          int64                 `json:"id"`
	Position    int                   `json:"position"`
	Name        string                `json:"name"`
	Title       string                `json:"title"`
	State       string                `json:"state"`
	Enabled     bool                  `json:"enabled"`
	Interactive bool                  `json:"interactive"`
	Protocol    string                `json:"protocol,omitempty"`
	Diagnostics []pipeline.Diagnostic `json:"diagnostics"`
	Start       int64                 `json:"start,omitempty"`
	DurationMS  int64                 `json:"durationMs,omitempty"`
	WebService  string                `json:"webService,omitempty"`
	Results     []FileView            `json:"results"`
}

// PipelineView is the API shape of a pipeline.
type PipelineView struct {
	ID       int64       `json:"id"`
	State    string      `json:"state"`
	Language string      `json:"language"`
	Provider string      `json:"provider"`
	GroupID  int64       `json:"groupId,omitempty"`
	Files    []FileView  `json:"files"`
	Stages   []StageView `json:"stages"`
}

// EntryView is one top-level registry entry. Pipeline is set for single
// pipelines, Path and Entries for groups.
type EntryView struct {
	ID       int64          `json:"id"`
	Type     string         `json:"type"`
	Path     string         `json:"path,omitempty"`
	Pipeline *PipelineView  `json:"pipeline,omitempty"`
	Entries  []PipelineView `json:"entries,omitempty"`
}

// TemplateStageView describes one slot of the stage template.
type TemplateStageView struct {
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Enabled     bool   `json:"enabled"`
	Interactive bool   `json:"interactive"`
}

// Status is the scheduler summary.
type Status struct {
	Processing   bool                `json:"processing"`
	OverallState string              `json:"overallState"`
	Label        string              `json:"label"`
	Stats        Stats               `json:"stats"`
	Progress     Progress            `json:"progress"`
	Averages     []float64           `json:"averageMinutes"`
	Language     string              `json:"language"`
	ASR          string              `json:"asr"`
	Split        string              `json:"split"`
	IngestQueue  int                 `json:"ingestQueue"`
	IngestIdle   bool                `json:"ingestIdle"`
	ReportPath   string              `json:"reportPath,omitempty"`
	Template     []TemplateStageView `json:"template"`
	LastEventSeq uint64              `json:"lastEventSeq"`
}

func viewFile(f pipeline.FileRef) FileView {
	return FileView{
		Name:      f.Name(),
		FullName:  f.FullName,
		Type:      f.Type,
		Size:      f.Size,
		URL:       f.URL,
		Online:    f.Online,
		Local:     f.Local(),
		CreatedAt: f.CreatedAt,
	}
}

func viewFiles(files []pipeline.FileRef) []FileView {
	out := make([]FileView, len(files))
	for i, f := range files {
		out[i] = viewFile(f)
	}
	return out
}

func viewPipeline(p *pipeline.Pipeline) PipelineView {
	view := PipelineView{
		ID:       p.ID(),
		State:    string(p.State()),
		Language: p.Language(),
		Provider: p.Provider(),
		Files:    viewFiles(p.Files()),
	}
	if g := p.Group(); g != nil {
		view.GroupID = g.ID()
	}
	for i, st := range p.Stages() {
		view.Stages = append(view.Stages, StageView{
			ID:          st.ID(),
			Position:    i,
			Name:        st.Kind().Name(),
			Title:       st.Kind().Title(),
			State:       string(st.State()),
			Enabled:     st.Enabled(),
			Interactive: st.Kind().Interactive(),
			Protocol:    st.Protocol(),
			Diagnostics: st.Diagnostics(),
			Start:       st.Time().Start,
			DurationMS:  st.Time().Duration,
			WebService:  st.WebService(),
			Results:     viewFiles(st.Results()),
		})
	}
	return view
}

func viewEntry(entry pipeline.Entry) EntryView {
	switch e := entry.(type) {
	case *pipeline.Pipeline:
		pv := viewPipeline(e)
		return EntryView{ID: e.ID(), Type: "task", Pipeline: &pv}
	case *pipeline.Group:
		view := EntryView{ID: e.ID(), Type: "folder", Path: e.Path()}
		for _, child := range e.Entries() {
			view.Entries = append(view.Entries, viewPipeline(child))
		}
		return view
	}
	return EntryView{ID: entry.ID()}
}

func viewTemplate(tmpl *pipeline.Template) []TemplateStageView {
	stages := tmpl.Stages()
	out := make([]TemplateStageView, len(stages))
	for i, st := range stages {
		out[i] = TemplateStageView{
			Position:    i,
			Name:        st.Kind.Name(),
			Title:       st.Kind.Title(),
			Enabled:     st.Enabled,
			Interactive: st.Kind.Interactive(),
		}
	}
	return out
}
