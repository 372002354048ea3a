package testsupport

import (
	"path/filepath"
	"testing"

	"speechflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Auto-confirm and autostart are off so tests drive both explicitly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.ReportDir = filepath.Join(base, "reports")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Provider.AccessCode = "test-code"
	cfgVal.Workflow.AutoConfirm = false
	cfgVal.Workflow.Autostart = false
	cfgVal.Workflow.PollIntervalMS = 3600000
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithProviderHost points every configured language at host.
func WithProviderHost(host string) ConfigOption {
	return func(b *configBuilder) {
		for i := range b.cfg.Languages {
			b.cfg.Languages[i].Host = host
		}
	}
}

// WithAutostart turns processing on when the scheduler starts.
func WithAutostart() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Autostart = true
	}
}

// WithSplit sets workflow.split_channels.
func WithSplit(choice string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.SplitChannels = choice
	}
}

// WithWatchDir enables the watch directory under the test base dir.
func WithWatchDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.WatchDir = filepath.Join(b.baseDir, "inbox")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
