package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"speechflow/internal/config"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(home); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	home := isolateHome(t)
	t.Setenv("SPEECHFLOW_ACCESS_CODE", "env-code")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(home, ".config", "speechflow", "config.toml"); resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}
	wantData := filepath.Join(home, ".local", "share", "speechflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.WorkDir != filepath.Join(wantData, "work") {
		t.Fatalf("unexpected work dir: %q", cfg.Paths.WorkDir)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "speechflow.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7512" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Provider.AccessCode != "env-code" {
		t.Fatalf("expected access code from env, got %q", cfg.Provider.AccessCode)
	}
	if cfg.Workflow.MaxRunningTasks != 3 {
		t.Fatalf("expected default max running tasks 3, got %d", cfg.Workflow.MaxRunningTasks)
	}
	if cfg.PollInterval().Milliseconds() != 1000 {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.ProviderTimeout().Seconds() != 600 {
		t.Fatalf("unexpected provider timeout: %s", cfg.ProviderTimeout())
	}
	lang := cfg.DefaultLanguage()
	if lang.Code != "deu-DE" || lang.ASR != "Google" {
		t.Fatalf("unexpected default language: %+v", lang)
	}
	if !strings.HasSuffix(lang.Host, "/") {
		t.Fatalf("expected host to end with slash, got %q", lang.Host)
	}
}

func TestLoadCustomPath(t *testing.T) {
	isolateHome(t)
	configPath := filepath.Join(t.TempDir(), "speechflow.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Workflow struct {
			MaxRunningTasks int    `toml:"max_running_tasks"`
			SplitChannels   string `toml:"split_channels"`
		} `toml:"workflow"`
		Languages []struct {
			Code string `toml:"code"`
			ASR  string `toml:"asr"`
		} `toml:"languages"`
		Provider struct {
			DefaultLanguage string `toml:"default_language"`
		} `toml:"provider"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(filepath.Dir(configPath), "data")
	custom.Workflow.MaxRunningTasks = 5
	custom.Workflow.SplitChannels = "FIRST"
	custom.Languages = append(custom.Languages, struct {
		Code string `toml:"code"`
		ASR  string `toml:"asr"`
	}{Code: "eng-US", ASR: "Microsoft"})
	custom.Provider.DefaultLanguage = "eng-US"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Workflow.MaxRunningTasks != 5 {
		t.Fatalf("expected max running tasks 5, got %d", cfg.Workflow.MaxRunningTasks)
	}
	if cfg.Workflow.SplitChannels != "first" {
		t.Fatalf("expected split channels lowercased, got %q", cfg.Workflow.SplitChannels)
	}
	if len(cfg.Languages) != 1 {
		t.Fatalf("expected file languages to replace defaults, got %d", len(cfg.Languages))
	}
	lang := cfg.DefaultLanguage()
	if lang.ASR != "Microsoft" || lang.Name != "eng-US" {
		t.Fatalf("unexpected language: %+v", lang)
	}
	if cfg.Paths.WorkDir != filepath.Join(filepath.Dir(configPath), "data", "work") {
		t.Fatalf("expected default work dir under custom data dir, got %q", cfg.Paths.WorkDir)
	}
}

func TestEnvVarOverridesConfigFileForSecrets(t *testing.T) {
	isolateHome(t)
	configPath := filepath.Join(t.TempDir(), "speechflow.toml")
	contents := `
[provider]
access_code = "file-code"

[paths]
api_token = "file-token"

[storage]
redis_password = "file-redis"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SPEECHFLOW_ACCESS_CODE", "env-code")
	t.Setenv("SPEECHFLOW_API_TOKEN", "env-token")
	t.Setenv("SPEECHFLOW_REDIS_PASSWORD", "")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Provider.AccessCode != "env-code" {
		t.Errorf("expected access code from env, got %q", cfg.Provider.AccessCode)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Errorf("expected api token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Storage.RedisPassword != "file-redis" {
		t.Errorf("expected empty env value to keep file password, got %q", cfg.Storage.RedisPassword)
	}
}

func TestLoadReadsDotEnvBesideConfig(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "speechflow.toml")
	if err := os.WriteFile(configPath, []byte("[workflow]\nmax_running_tasks = 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SPEECHFLOW_ACCESS_CODE=dotenv-code\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("SPEECHFLOW_ACCESS_CODE", "")
	os.Unsetenv("SPEECHFLOW_ACCESS_CODE")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Provider.AccessCode != "dotenv-code" {
		t.Fatalf("expected access code from .env, got %q", cfg.Provider.AccessCode)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "SPEECHFLOW_ACCESS_CODE") {
		t.Fatalf("sample config missing access code hint: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if len(cfg.Languages) == 0 {
		t.Fatal("expected sample to declare languages")
	}
	if cfg.Workflow.SplitChannels != "ask" {
		t.Fatalf("unexpected sample split policy %q", cfg.Workflow.SplitChannels)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"split policy":     func(c *config.Config) { c.Workflow.SplitChannels = "left" },
		"max running":      func(c *config.Config) { c.Workflow.MaxRunningTasks = 0 },
		"language tag":     func(c *config.Config) { c.Languages[0].Code = "not a tag" },
		"language host":    func(c *config.Config) { c.Languages[0].Host = "ftp://example" },
		"default language": func(c *config.Config) { c.Provider.DefaultLanguage = "fra-FR" },
		"upload backend":   func(c *config.Config) { c.Upload.Backend = "ftp" },
		"s3 without bucket": func(c *config.Config) {
			c.Upload.Backend = "s3"
			c.Upload.Endpoint = "localhost:9000"
			c.Upload.AccessKey = "a"
			c.Upload.SecretKey = "b"
		},
		"storage backend": func(c *config.Config) { c.Storage.Backend = "mysql" },
		"log format":      func(c *config.Config) { c.Logging.Format = "xml" },
		"component level": func(c *config.Config) { c.Logging.ComponentLevels = map[string]string{"scheduler": "loud"} },
		"duplicate language": func(c *config.Config) {
			c.Languages = append(c.Languages, c.Languages[0])
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLanguageByCodePrefersMatchingASR(t *testing.T) {
	cfg := config.Default()
	cfg.Languages = append(cfg.Languages, config.Language{Code: "deu-DE", ASR: "Watson", Host: "https://example.org/"})

	lang, ok := cfg.LanguageByCode("deu-DE", "Watson")
	if !ok || lang.Host != "https://example.org/" {
		t.Fatalf("expected Watson entry, got %+v ok=%v", lang, ok)
	}
	lang, ok = cfg.LanguageByCode("deu-DE", "Unknown")
	if !ok || lang.ASR != "Google" {
		t.Fatalf("expected fallback to first entry, got %+v", lang)
	}
	if _, ok := cfg.LanguageByCode("fra-FR", ""); ok {
		t.Fatal("expected unknown language to be missing")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.WorkDir = filepath.Join(base, "data", "work")
	cfg.Paths.ReportDir = filepath.Join(base, "reports")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WatchDir = filepath.Join(base, "inbox")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.ReportDir, cfg.Paths.LogDir, cfg.Paths.WatchDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
