package config

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if err := c.validateLanguages(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLanguages() error {
	if len(c.Languages) == 0 {
		return errors.New("languages must include at least one entry")
	}
	seen := make(map[string]struct{}, len(c.Languages))
	for i, lang := range c.Languages {
		if lang.Code == "" {
			return fmt.Errorf("languages[%d].code must be set", i)
		}
		if _, err := language.Parse(lang.Code); err != nil {
			return fmt.Errorf("languages[%d].code %q is not a valid language tag: %w", i, lang.Code, err)
		}
		if lang.ASR == "" {
			return fmt.Errorf("languages[%d].asr must be set", i)
		}
		if !strings.HasPrefix(lang.Host, "http://") && !strings.HasPrefix(lang.Host, "https://") {
			return fmt.Errorf("languages[%d].host must be an http(s) URL", i)
		}
		key := strings.ToLower(lang.Code + "|" + lang.ASR)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("languages[%d] duplicates %s with asr %s", i, lang.Code, lang.ASR)
		}
		seen[key] = struct{}{}
	}
	if _, ok := c.LanguageByCode(c.Provider.DefaultLanguage, ""); !ok {
		return fmt.Errorf("provider.default_language %q is not listed in languages", c.Provider.DefaultLanguage)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	switch c.Workflow.SplitChannels {
	case "ask", "first", "second", "both":
	default:
		return fmt.Errorf("workflow.split_channels: unsupported value %q (expected ask, first, second or both)", c.Workflow.SplitChannels)
	}
	if c.Workflow.MaxRunningTasks <= 0 {
		return errors.New("workflow.max_running_tasks must be positive")
	}
	return nil
}

func (c *Config) validateUpload() error {
	switch c.Upload.Backend {
	case "provider":
		return nil
	case "s3":
		if c.Upload.Endpoint == "" {
			return errors.New("upload.endpoint must be set when upload.backend is s3")
		}
		if c.Upload.Bucket == "" {
			return errors.New("upload.bucket must be set when upload.backend is s3")
		}
		if c.Upload.AccessKey == "" || c.Upload.SecretKey == "" {
			return errors.New("upload.access_key and upload.secret_key must be set when upload.backend is s3 (or SPEECHFLOW_S3_ACCESS_KEY / SPEECHFLOW_S3_SECRET_KEY)")
		}
		return nil
	default:
		return fmt.Errorf("upload.backend: unsupported value %q", c.Upload.Backend)
	}
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "sqlite":
		return nil
	case "redis":
		if c.Storage.RedisDB < 0 {
			return errors.New("storage.redis_db must not be negative")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	for component, level := range c.Logging.ComponentLevels {
		switch level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.component_levels.%s: unsupported level %q", component, level)
		}
	}
	return nil
}
