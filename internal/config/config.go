package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	WorkDir   string `toml:"work_dir"`
	WatchDir  string `toml:"watch_dir"`
	ReportDir string `toml:"report_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Provider contains settings shared by every provider-backed stage.
type Provider struct {
	AccessCode            string `toml:"access_code"`
	DefaultLanguage       string `toml:"default_language"`
	DefaultASR            string `toml:"default_asr"`
	ManualToolURL         string `toml:"manual_tool_url"`
	PhoneticToolURL       string `toml:"phonetic_tool_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Language describes one selectable language and the provider serving it.
type Language struct {
	Code         string `toml:"code"`
	Name         string `toml:"name"`
	ASR          string `toml:"asr"`
	Host         string `toml:"host"`
	MausLanguage string `toml:"maus_language"`
}

// Workflow contains scheduler and ingestion timing.
type Workflow struct {
	PollIntervalMS  int    `toml:"poll_interval_ms"`
	MaxRunningTasks int    `toml:"max_running_tasks"`
	Autostart       bool   `toml:"autostart"`
	AutoConfirm     bool   `toml:"auto_confirm"`
	SplitChannels   string `toml:"split_channels"`
	WatchSettleMS   int    `toml:"watch_settle_ms"`
}

// Stages holds the template enabled flags for the optional stages. Upload is
// always enabled.
type Stages struct {
	ASR                 bool `toml:"asr"`
	ManualTranscription bool `toml:"manual_transcription"`
	ForcedAlignment     bool `toml:"forced_alignment"`
	PhoneticDetail      bool `toml:"phonetic_detail"`
}

// Upload selects where the upload stage places audio so providers can fetch it.
type Upload struct {
	Backend        string `toml:"backend"`
	Endpoint       string `toml:"endpoint"`
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	URLExpiryHours int    `toml:"url_expiry_hours"`
}

// Storage selects the key-value backend used for persisted pipelines.
type Storage struct {
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	StageFinished  bool   `toml:"stage_finished"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format          string            `toml:"format"`
	Level           string            `toml:"level"`
	RetentionDays   int               `toml:"retention_days"`
	MaxSizeMB       int               `toml:"max_size_mb"`
	MaxBackups      int               `toml:"max_backups"`
	Compress        bool              `toml:"compress"`
	ComponentLevels map[string]string `toml:"component_levels"`
}

// Config encapsulates all configuration values for speechflow.
//
// Configuration sections by subsystem:
//   - Paths: state, work, watch, report and log directories plus the API bind
//   - Provider: access code, default language, interactive tool URLs
//   - Languages: provider host and ASR engine per language
//   - Workflow: scheduler interval, concurrency ceiling, split-channel policy
//   - Stages: template enabled flags
//   - Upload: provider or S3-compatible upload backend
//   - Storage: sqlite or redis persistence
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, rotation and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Provider      Provider      `toml:"provider"`
	Languages     []Language    `toml:"languages"`
	Workflow      Workflow      `toml:"workflow"`
	Stages        Stages        `toml:"stages"`
	Upload        Upload        `toml:"upload"`
	Storage       Storage       `toml:"storage"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath())
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// Declared languages replace the built-in list rather than extend it.
		cfg.Languages = nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env from the config directory and the working directory.
// godotenv never overrides variables that are already set.
func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env"), ".env"}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath())
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("speechflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.ReportDir, c.Paths.LogDir}
	if c.Paths.WatchDir != "" {
		dirs = append(dirs, c.Paths.WatchDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LanguageByCode returns the configured language entry for code. When asr is
// non-empty an entry with a matching ASR engine is preferred.
func (c *Config) LanguageByCode(code, asr string) (Language, bool) {
	code = strings.TrimSpace(code)
	asr = strings.TrimSpace(asr)
	var fallback *Language
	for i := range c.Languages {
		lang := &c.Languages[i]
		if !strings.EqualFold(lang.Code, code) {
			continue
		}
		if asr == "" || strings.EqualFold(lang.ASR, asr) {
			return *lang, true
		}
		if fallback == nil {
			fallback = lang
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Language{}, false
}

// DefaultLanguage returns the language new pipelines are created with.
func (c *Config) DefaultLanguage() Language {
	if lang, ok := c.LanguageByCode(c.Provider.DefaultLanguage, c.Provider.DefaultASR); ok {
		return lang
	}
	if len(c.Languages) > 0 {
		return c.Languages[0]
	}
	return Language{}
}

// PollInterval returns the scheduler tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalMS) * time.Millisecond
}

// ProviderTimeout returns the per-call provider timeout. Zero disables it.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.RequestTimeoutSeconds) * time.Second
}

// DatabasePath returns the sqlite database location.
func (c *Config) DatabasePath() string {
	if strings.TrimSpace(c.Storage.Path) != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.Paths.DataDir, "speechflow.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "speechflow.lock")
}

// PIDPath returns the file the daemon writes its process id to.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "speechflow.pid")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
