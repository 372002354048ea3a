package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	appName                      = "speechflow"
	defaultAPIBind               = "127.0.0.1:7512"
	defaultBASHost               = "https://clarin.phonetik.uni-muenchen.de/BASWebServices/services/"
	defaultManualToolURL         = "https://www.phonetik.uni-muenchen.de/apps/octra/octra-2"
	defaultPhoneticToolURL       = "https://ips-lmu.github.io/EMU-webApp/"
	defaultLanguageCode          = "deu-DE"
	defaultASR                   = "Google"
	defaultRequestTimeoutSeconds = 600
	defaultPollIntervalMS        = 1000
	defaultMaxRunningTasks       = 3
	defaultSplitChannels         = "ask"
	defaultWatchSettleMS         = 2000
	defaultUploadBackend         = "provider"
	defaultUploadURLExpiryHours  = 24
	defaultStorageBackend        = "sqlite"
	defaultRedisAddr             = "127.0.0.1:6379"
	defaultRedisPrefix           = "speechflow"
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultLogMaxSizeMB          = 50
	defaultLogMaxBackups         = 5
)

func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.toml")
}

func defaultDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

func defaultStateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

func defaultLanguages() []Language {
	return []Language{
		{Code: "deu-DE", Name: "German", ASR: defaultASR, Host: defaultBASHost},
		{Code: "eng-GB", Name: "English (GB)", ASR: defaultASR, Host: defaultBASHost},
		{Code: "eng-US", Name: "English (US)", ASR: defaultASR, Host: defaultBASHost},
		{Code: "nld-NL", Name: "Dutch", ASR: defaultASR, Host: defaultBASHost},
		{Code: "ita-IT", Name: "Italian", ASR: defaultASR, Host: defaultBASHost},
		{Code: "gsw-CH", Name: "Swiss German", ASR: "Watson", Host: defaultBASHost, MausLanguage: "gsw-CH-BE"},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir(),
			WorkDir:   filepath.Join(defaultDataDir(), "work"),
			ReportDir: filepath.Join(defaultDataDir(), "reports"),
			LogDir:    filepath.Join(defaultStateDir(), "logs"),
			APIBind:   defaultAPIBind,
		},
		Provider: Provider{
			DefaultLanguage:       defaultLanguageCode,
			DefaultASR:            defaultASR,
			ManualToolURL:         defaultManualToolURL,
			PhoneticToolURL:       defaultPhoneticToolURL,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Languages: defaultLanguages(),
		Workflow: Workflow{
			PollIntervalMS:  defaultPollIntervalMS,
			MaxRunningTasks: defaultMaxRunningTasks,
			AutoConfirm:     true,
			SplitChannels:   defaultSplitChannels,
			WatchSettleMS:   defaultWatchSettleMS,
		},
		Stages: Stages{
			ASR:                 true,
			ManualTranscription: true,
			ForcedAlignment:     true,
			PhoneticDetail:      true,
		},
		Upload: Upload{
			Backend:        defaultUploadBackend,
			UseSSL:         true,
			URLExpiryHours: defaultUploadURLExpiryHours,
		},
		Storage: Storage{
			Backend:     defaultStorageBackend,
			RedisAddr:   defaultRedisAddr,
			RedisPrefix: defaultRedisPrefix,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			StageFinished:  true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
			Compress:      true,
		},
	}
}
