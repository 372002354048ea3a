package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"speechflow/internal/api"
	"speechflow/internal/config"
	"speechflow/internal/daemon"
	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
	"speechflow/internal/store"
	"speechflow/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "cli-token"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "speechflow.toml")
	writeTestConfig(t, configPath, cfg)

	st, err := store.OpenSQLite(context.Background(), filepath.Join(base, "cli.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Options{
		Store:      st,
		Logger:     logging.NewNop(),
		Version:    "cli-test",
		Dispatcher: pipeline.InlineDispatcher{},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
		cancel()
		_ = d.Close()
	})

	return &cliTestEnv{cfg: cfg, daemon: d, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// run executes the CLI against the env daemon.
func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--config", env.configPath, "--api", env.daemon.Addr()}, args...)
	return runCLI(t, full...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "cli-test")
	requireContains(t, out, "Stage template")
	requireContains(t, out, "ASR")

	out, err = env.run(t, "--json", "status")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var resp api.StatusResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if resp.Daemon.Version != "cli-test" || len(resp.Scheduler.Template) != 5 {
		t.Fatalf("unexpected status %+v", resp)
	}
}

func TestProcessingStartStop(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "start")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Scheduler processing")

	out, err = env.run(t, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Scheduler stopped")
}

func TestAddListShowRemove(t *testing.T) {
	env := setupCLITestEnv(t)
	wav := filepath.Join(env.baseDir, "input", "interview.wav")
	testsupport.WriteWAV(t, wav, testsupport.WAVSpec{Channels: 1, Frames: 1600})

	out, err := env.run(t, "add", wav)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	requireContains(t, out, "Queued 1 path(s)")

	var entries api.EntriesResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		out, err = env.run(t, "--json", "list")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if err := json.Unmarshal([]byte(out), &entries); err != nil {
			t.Fatalf("decode entries: %v\n%s", err, out)
		}
		if len(entries.Entries) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recording was not ingested")
		}
		time.Sleep(20 * time.Millisecond)
	}

	entry := entries.Entries[0]
	if entry.Pipeline == nil || entry.Pipeline.State != string(pipeline.StateQueued) {
		t.Fatalf("unexpected entry %+v", entry)
	}

	out, err = env.run(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "interview.wav")

	id := entry.ID
	out, err = env.run(t, "show", strconv.FormatInt(id, 10))
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Pipeline")
	requireContains(t, out, "QUEUED")

	out, err = env.run(t, "confirm")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	requireContains(t, out, "Confirmed 1 pipeline(s)")

	out, err = env.run(t, "remove", strconv.FormatInt(id, 10))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	requireContains(t, out, "Removed entry")

	if _, err := env.run(t, "show", strconv.FormatInt(id, 10)); err == nil {
		t.Fatal("expected show of removed entry to fail")
	}
}

func TestStageAndLanguageCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "stage", "disable", "4")
	if err != nil {
		t.Fatalf("stage disable: %v", err)
	}
	requireContains(t, out, "Stage 4 disabled")

	out, err = env.run(t, "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var resp api.StatusResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.Scheduler.Template[4].Enabled {
		t.Fatalf("expected position 4 disabled: %+v", resp.Scheduler.Template)
	}

	if _, err := env.run(t, "stage", "enable", "99"); err == nil {
		t.Fatal("expected out-of-range position to fail")
	}

	out, err = env.run(t, "language", "eng-GB")
	if err != nil {
		t.Fatalf("language: %v", err)
	}
	requireContains(t, out, "Language set to eng-GB")

	if _, err := env.run(t, "language", "xxx-XX"); err == nil {
		t.Fatal("expected unknown language to fail")
	}
}

func TestArgumentValidation(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "show", "abc"); err == nil || !strings.Contains(err.Error(), "invalid entry id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
	if _, err := env.run(t, "split", "maybe"); err == nil {
		t.Fatal("expected invalid split choice to fail")
	}
	if _, err := env.run(t, "split", "ask"); err == nil {
		t.Fatal("expected non-answer split choice to fail")
	}
}

func TestReportCommandWritesFile(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(env.baseDir, "out", "report.json")

	out, err := env.run(t, "report", "--output", target)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	requireContains(t, out, "Report written to")
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !json.Valid(data) {
		t.Fatalf("report is not JSON: %s", data)
	}
}

func TestCommandsReportUnreachableDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "speechflow.toml")
	writeTestConfig(t, configPath, cfg)

	_, err := runCLI(t, "--config", configPath, "--api", "127.0.0.1:1", "status")
	if err == nil || !strings.Contains(err.Error(), "speechflow daemon start") {
		t.Fatalf("expected daemon hint, got %v", err)
	}
}

func TestWrongTokenIsRejected(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "--token", "wrong", "status")
	if err == nil || !strings.Contains(err.Error(), "api_token") {
		t.Fatalf("expected token hint, got %v", err)
	}
}
