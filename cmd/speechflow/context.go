package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"speechflow/internal/api"
	"speechflow/internal/config"
)

type globalFlags struct {
	config string
	api    string
	token  string
	json   bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if bind := strings.TrimSpace(c.flags.api); bind != "" {
			cfg.Paths.APIBind = bind
		}
		if token := strings.TrimSpace(c.flags.token); token != "" {
			cfg.Paths.APIToken = token
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.flags != nil && c.flags.json
}

func (c *commandContext) withClient(fn func(*api.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	client, err := api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
	if err != nil {
		return err
	}
	return wrapClientError(fn(client), cfg.Paths.APIBind)
}

func wrapClientError(err error, bind string) error {
	if err == nil {
		return nil
	}
	var reqErr *api.RequestError
	switch {
	case errors.Is(err, api.ErrDaemonUnavailable):
		return fmt.Errorf("connect to daemon at %s: not reachable; start it with `speechflow daemon start`", bind)
	case errors.As(err, &reqErr) && reqErr.Status == 401:
		return fmt.Errorf("daemon rejected the request: check paths.api_token or --token")
	default:
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func parseID(value, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, value)
	}
	return id, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
