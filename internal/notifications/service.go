package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"speechflow/internal/config"
)

const userAgent = "speechflow/0.1.0"

// Service defines the notification surface exposed to the scheduler.
type Service interface {
	NotifyTranscriptionReady(ctx context.Context, stageTitle, fileName string) error
	NotifyAlignmentReady(ctx context.Context, stageTitle, fileName string) error
	NotifyStageFailed(ctx context.Context, stageTitle, fileName, protocol string) error
	NotifyError(ctx context.Context, err error, context string) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		stageFinished: cfg.Notifications.StageFinished,
		errors:        cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	stageFinished bool
	errors        bool
}

func (n *ntfyService) NotifyTranscriptionReady(ctx context.Context, stageTitle, fileName string) error {
	if !n.stageFinished {
		return nil
	}
	data := payload{
		title:   fmt.Sprintf("%q successful", strings.TrimSpace(stageTitle)),
		message: fmt.Sprintf("You can now transcribe %s manually.", strings.TrimSpace(fileName)),
		tags:    []string{"speechflow", "asr", "finished"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAlignmentReady(ctx context.Context, stageTitle, fileName string) error {
	if !n.stageFinished {
		return nil
	}
	data := payload{
		title:   fmt.Sprintf("%q successful", strings.TrimSpace(stageTitle)),
		message: fmt.Sprintf("You can now open phonetic details of %s.", strings.TrimSpace(fileName)),
		tags:    []string{"speechflow", "alignment", "finished"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStageFailed(ctx context.Context, stageTitle, fileName, protocol string) error {
	if !n.errors {
		return nil
	}
	message := fmt.Sprintf("Operation failed for %s.", strings.TrimSpace(fileName))
	if protocol = strings.TrimSpace(protocol); protocol != "" {
		message += "\n" + protocol
	}
	data := payload{
		title:    fmt.Sprintf("%q Operation failed", strings.TrimSpace(stageTitle)),
		message:  message,
		tags:     []string{"speechflow", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "speechflow - Error",
		message:  builder.String(),
		tags:     []string{"speechflow", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyTranscriptionReady(context.Context, string, string) error  { return nil }
func (noopService) NotifyAlignmentReady(context.Context, string, string) error      { return nil }
func (noopService) NotifyStageFailed(context.Context, string, string, string) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                { return nil }
