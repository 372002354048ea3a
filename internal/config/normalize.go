package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProvider()
	c.normalizeLanguages()
	c.normalizeWorkflow()
	c.normalizeUpload()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = c.Paths.DataDir + string(os.PathSeparator) + "work"
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = c.Paths.DataDir + string(os.PathSeparator) + "reports"
	}
	if c.Paths.ReportDir, err = expandPath(c.Paths.ReportDir); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.WatchDir = strings.TrimSpace(c.Paths.WatchDir)
	if c.Paths.WatchDir != "" {
		if c.Paths.WatchDir, err = expandPath(c.Paths.WatchDir); err != nil {
			return fmt.Errorf("paths.watch_dir: %w", err)
		}
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	envOverride(&c.Paths.APIToken, "SPEECHFLOW_API_TOKEN")
	return nil
}

func (c *Config) normalizeProvider() {
	envOverride(&c.Provider.AccessCode, "SPEECHFLOW_ACCESS_CODE")
	c.Provider.DefaultLanguage = strings.TrimSpace(c.Provider.DefaultLanguage)
	c.Provider.DefaultASR = strings.TrimSpace(c.Provider.DefaultASR)
	c.Provider.ManualToolURL = strings.TrimRight(strings.TrimSpace(c.Provider.ManualToolURL), "/")
	c.Provider.PhoneticToolURL = strings.TrimSpace(c.Provider.PhoneticToolURL)
	if c.Provider.RequestTimeoutSeconds < 0 {
		c.Provider.RequestTimeoutSeconds = 0
	}
}

func (c *Config) normalizeLanguages() {
	if len(c.Languages) == 0 {
		c.Languages = defaultLanguages()
	}
	for i := range c.Languages {
		lang := &c.Languages[i]
		lang.Code = strings.TrimSpace(lang.Code)
		lang.Name = strings.TrimSpace(lang.Name)
		lang.ASR = strings.TrimSpace(lang.ASR)
		lang.MausLanguage = strings.TrimSpace(lang.MausLanguage)
		lang.Host = strings.TrimSpace(lang.Host)
		if lang.Host == "" {
			lang.Host = defaultBASHost
		}
		if !strings.HasSuffix(lang.Host, "/") {
			lang.Host += "/"
		}
		if lang.Name == "" {
			lang.Name = lang.Code
		}
	}
	if c.Provider.DefaultLanguage == "" {
		c.Provider.DefaultLanguage = c.Languages[0].Code
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PollIntervalMS <= 0 {
		c.Workflow.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Workflow.MaxRunningTasks <= 0 {
		c.Workflow.MaxRunningTasks = defaultMaxRunningTasks
	}
	c.Workflow.SplitChannels = strings.ToLower(strings.TrimSpace(c.Workflow.SplitChannels))
	if c.Workflow.SplitChannels == "" {
		c.Workflow.SplitChannels = defaultSplitChannels
	}
	if c.Workflow.WatchSettleMS < 0 {
		c.Workflow.WatchSettleMS = 0
	}
}

func (c *Config) normalizeUpload() {
	c.Upload.Backend = strings.ToLower(strings.TrimSpace(c.Upload.Backend))
	if c.Upload.Backend == "" {
		c.Upload.Backend = defaultUploadBackend
	}
	c.Upload.Endpoint = strings.TrimSpace(c.Upload.Endpoint)
	c.Upload.Bucket = strings.TrimSpace(c.Upload.Bucket)
	envOverride(&c.Upload.AccessKey, "SPEECHFLOW_S3_ACCESS_KEY")
	envOverride(&c.Upload.SecretKey, "SPEECHFLOW_S3_SECRET_KEY")
	if c.Upload.URLExpiryHours <= 0 {
		c.Upload.URLExpiryHours = defaultUploadURLExpiryHours
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if strings.TrimSpace(c.Storage.Path) != "" {
		expanded, err := expandPath(c.Storage.Path)
		if err != nil {
			return fmt.Errorf("storage.path: %w", err)
		}
		c.Storage.Path = expanded
	}
	c.Storage.RedisAddr = strings.TrimSpace(c.Storage.RedisAddr)
	if c.Storage.RedisAddr == "" {
		c.Storage.RedisAddr = defaultRedisAddr
	}
	envOverride(&c.Storage.RedisPassword, "SPEECHFLOW_REDIS_PASSWORD")
	c.Storage.RedisPrefix = strings.Trim(strings.TrimSpace(c.Storage.RedisPrefix), ":")
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = defaultRedisPrefix
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if len(c.Logging.ComponentLevels) > 0 {
		normalized := make(map[string]string, len(c.Logging.ComponentLevels))
		for component, level := range c.Logging.ComponentLevels {
			key := strings.ToLower(strings.TrimSpace(component))
			if key == "" {
				continue
			}
			normalized[key] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.ComponentLevels = normalized
	}
}

// envOverride replaces *target with the trimmed value of key when the
// variable is set and non-empty. Environment secrets take precedence over the
// config file.
func envOverride(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			*target = trimmed
		}
	}
}
