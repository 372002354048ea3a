package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"speechflow/internal/pipeline"
	"speechflow/internal/scheduler"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

// stateKind maps a pipeline or stage state to a status colour.
func stateKind(state string) statusKind {
	switch pipeline.State(state) {
	case pipeline.StateFinished, pipeline.StateSkipped:
		return statusOK
	case pipeline.StateReady:
		return statusWarn
	case pipeline.StateError:
		return statusError
	default:
		return statusInfo
	}
}

func overallKind(state string) statusKind {
	switch state {
	case scheduler.OverallProcessing:
		return statusOK
	case scheduler.OverallStopped:
		return statusWarn
	default:
		return statusInfo
	}
}

func colorState(state string, colorize bool) string {
	if !colorize {
		return state
	}
	return statusKindColor(stateKind(state)) + state + ansiReset
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderStatus(status scheduler.Status, colorize bool) []string {
	lines := renderSectionHeader("Scheduler", colorize)
	lines = append(lines,
		renderStatusLine("Processing", overallKind(status.OverallState), status.Label, colorize),
		renderStatusLine("Language", statusInfo, fmt.Sprintf("%s via %s", status.Language, status.ASR), colorize),
		renderStatusLine("Channel split", statusInfo, status.Split, colorize),
	)
	ingestKind, ingestMsg := statusOK, "idle"
	if !status.IngestIdle {
		ingestKind, ingestMsg = statusInfo, fmt.Sprintf("%d queued", status.IngestQueue)
	}
	lines = append(lines, renderStatusLine("Ingest", ingestKind, ingestMsg, colorize))

	statsKind := statusInfo
	if status.Stats.Errors > 0 {
		statsKind = statusError
	}
	lines = append(lines, renderStatusLine("Pipelines", statsKind, fmt.Sprintf(
		"%d queued, %d waiting, %d running, %d finished, %d failed",
		status.Stats.Queued, status.Stats.Waiting, status.Stats.Running,
		status.Stats.Finished, status.Stats.Errors), colorize))
	if status.ReportPath != "" {
		lines = append(lines, renderStatusLine("Report", statusInfo, status.ReportPath, colorize))
	}
	return lines
}

func templateRows(template []scheduler.TemplateStageView) [][]string {
	rows := make([][]string, 0, len(template))
	for _, st := range template {
		rows = append(rows, []string{
			fmt.Sprintf("%d", st.Position),
			st.Name,
			st.Title,
			yesNo(st.Enabled),
			yesNo(st.Interactive),
		})
	}
	return rows
}

// pipelineRows flattens entries into one row per pipeline. Group members
// carry the group path in the source column.
func pipelineRows(entries []scheduler.EntryView, colorize bool) [][]string {
	var rows [][]string
	add := func(p scheduler.PipelineView, source string) {
		rows = append(rows, []string{
			fmt.Sprintf("%d", p.ID),
			colorState(p.State, colorize),
			pipelineFiles(p),
			p.Language,
			stageSummary(p.Stages),
			source,
		})
	}
	for _, entry := range entries {
		if entry.Pipeline != nil {
			add(*entry.Pipeline, "")
			continue
		}
		for _, member := range entry.Entries {
			add(member, fmt.Sprintf("group %d", entry.ID))
		}
	}
	return rows
}

func pipelineFiles(p scheduler.PipelineView) string {
	names := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		names = append(names, f.FullName)
	}
	return strings.Join(names, ", ")
}

// stageSummary renders one short token per enabled stage, e.g. "UL:FINISHED".
func stageSummary(stages []scheduler.StageView) string {
	parts := make([]string, 0, len(stages))
	for _, st := range stages {
		if !st.Enabled {
			continue
		}
		parts = append(parts, st.Name+":"+st.State)
	}
	return strings.Join(parts, " ")
}

func stageRows(stages []scheduler.StageView, colorize bool) [][]string {
	rows := make([][]string, 0, len(stages))
	for _, st := range stages {
		duration := ""
		if st.DurationMS > 0 {
			duration = fmt.Sprintf("%.1fs", float64(st.DurationMS)/1000)
		}
		var results []string
		for _, r := range st.Results {
			results = append(results, r.FullName)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", st.ID),
			st.Title,
			colorState(st.State, colorize),
			yesNo(st.Enabled),
			duration,
			strings.Join(results, ", "),
		})
	}
	return rows
}
