package preflight

import (
	"context"
	"strings"

	"speechflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Provider hosts are probed once each even when several languages share one.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Report directory", cfg.Paths.ReportDir),
	}
	if strings.TrimSpace(cfg.Paths.WatchDir) != "" {
		results = append(results, CheckDirectoryAccess("Watch directory", cfg.Paths.WatchDir))
	}

	results = append(results, CheckStorage(ctx, cfg), CheckAccessCode(cfg))

	seen := make(map[string]struct{}, len(cfg.Languages))
	for _, lang := range cfg.Languages {
		host := strings.TrimSpace(lang.Host)
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		results = append(results, CheckProvider(ctx, "Provider "+lang.ASR+" ("+lang.Code+")", host))
	}

	return append(results, CheckNotifications(cfg))
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
