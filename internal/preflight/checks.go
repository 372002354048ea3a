package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"speechflow/internal/config"
	"speechflow/internal/store"
)

// CheckProvider verifies that a provider host answers HTTP. Any status below
// 500 counts as reachable; the service endpoints themselves need parameters.
func CheckProvider(ctx context.Context, name, host string) Result {
	base := strings.TrimSpace(host)
	if base == "" {
		return Result{Name: name, Detail: "missing host"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid host (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("provider error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckAccessCode reports whether a provider access code is configured.
func CheckAccessCode(cfg *config.Config) Result {
	const name = "Access code"
	if strings.TrimSpace(cfg.Provider.AccessCode) == "" {
		return Result{Name: name, Detail: "not configured (set provider.access_code or SPEECHFLOW_ACCESS_CODE)"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured"}
}

// CheckStorage opens and closes the configured store.
func CheckStorage(ctx context.Context, cfg *config.Config) Result {
	name := "Storage"
	backend := strings.TrimSpace(cfg.Storage.Backend)
	if backend == "" {
		backend = "sqlite"
	}
	name += " (" + backend + ")"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := store.Open(checkCtx, cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	_ = st.Close()
	if backend == "sqlite" {
		return Result{Name: name, Passed: true, Detail: cfg.DatabasePath()}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Storage.RedisAddr}
}

// CheckNotifications reports whether ntfy notifications are configured. An
// unset topic passes since notifications are optional.
func CheckNotifications(cfg *config.Config) Result {
	const name = "Notifications"
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (provider unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (provider unreachable)"
	}
	return err.Error()
}
