package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"speechflow/internal/fileutil"
	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
)

const reportVersion = "1.0.0"

// ProtocolReport is the downloadable summary of every registered entry.
type ProtocolReport struct {
	Version  string            `json:"version"`
	Encoding string            `json:"encoding"`
	Created  string            `json:"created"`
	Entries  []json.RawMessage `json:"entries"`
}

func (s *Scheduler) buildReport() ProtocolReport {
	report := ProtocolReport{
		Version:  reportVersion,
		Encoding: "UTF-8",
		Created:  s.now().UTC().Format(time.RFC3339),
		Entries:  []json.RawMessage{},
	}
	for _, entry := range s.registry.Entries() {
		raw, err := pipeline.MarshalEntry(entry)
		if err != nil {
			s.logger.Warn("report entry skipped", logging.PipelineID(entry.ID()), logging.Error(err))
			continue
		}
		report.Entries = append(report.Entries, raw)
	}
	return report
}

// writeReport replaces the previous protocol file with a fresh one.
func (s *Scheduler) writeReport() []byte {
	data, err := json.MarshalIndent(s.buildReport(), "", "  ")
	if err != nil {
		s.logger.Warn("encode protocol report", logging.Error(err))
		return nil
	}
	dir := s.cfg.Paths.ReportDir
	if dir == "" {
		return data
	}
	path := filepath.Join(dir, fmt.Sprintf("protocol_%d.json", s.now().UnixMilli()))
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		s.logger.Warn("write protocol report", logging.String("path", path), logging.Error(err))
		return data
	}
	if s.reportPath != "" && s.reportPath != path {
		_ = os.Remove(s.reportPath)
	}
	s.reportPath = path
	return data
}

// Report regenerates the protocol report and returns its path and content.
func (s *Scheduler) Report(ctx context.Context) (string, []byte, error) {
	var (
		path string
		data []byte
	)
	err := s.Call(ctx, func() {
		data = s.writeReport()
		path = s.reportPath
	})
	return path, data, err
}
