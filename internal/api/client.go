package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"speechflow/internal/scheduler"
)

// ErrDaemonUnavailable is returned when the daemon cannot be reached.
var ErrDaemonUnavailable = errors.New("daemon unavailable")

// RequestError is a non-2xx response from the daemon.
type RequestError struct {
	Status    int
	Message   string
	Kind      string
	RequestID string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return e.Message
}

// Client calls the daemon's HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for bind, which is either a host:port pair as
// written in paths.api_bind or a full URL.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api address is empty")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetProcessing starts or stops stage processing.
func (c *Client) SetProcessing(ctx context.Context, on bool) (*StatusResponse, error) {
	action := "stop"
	if on {
		action = "start"
	}
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/processing/"+action, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Entries lists every top-level entry.
func (c *Client) Entries(ctx context.Context) ([]scheduler.EntryView, error) {
	var resp EntriesResponse
	if err := c.do(ctx, http.MethodGet, "/api/pipelines", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Entry describes one entry.
func (c *Client) Entry(ctx context.Context, id int64) (*scheduler.EntryView, error) {
	var resp EntryResponse
	if err := c.do(ctx, http.MethodGet, "/api/pipelines/"+strconv.FormatInt(id, 10), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Entry, nil
}

// Remove deletes an entry.
func (c *Client) Remove(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/pipelines/"+strconv.FormatInt(id, 10), nil, nil)
}

// Enqueue submits paths on the daemon host for ingestion.
func (c *Client) Enqueue(ctx context.Context, paths []string) (int, error) {
	var resp EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/api/pipelines", EnqueueRequest{Paths: paths}, &resp); err != nil {
		return 0, err
	}
	return resp.Queued, nil
}

// Confirm moves QUEUED pipelines to PENDING.
func (c *Client) Confirm(ctx context.Context) (int, error) {
	var resp ConfirmResponse
	if err := c.do(ctx, http.MethodPost, "/api/pipelines/confirm", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Confirmed, nil
}

// SetLanguage changes the default language.
func (c *Client) SetLanguage(ctx context.Context, code, asr string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/language", LanguageRequest{Code: code, ASR: asr}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ToggleStage enables or disables a template stage.
func (c *Client) ToggleStage(ctx context.Context, position int, enabled bool) ([]int, error) {
	var resp StageToggleResponse
	path := "/api/stages/" + strconv.Itoa(position) + "/enabled"
	if err := c.do(ctx, http.MethodPost, path, StageToggleRequest{Enabled: enabled}, &resp); err != nil {
		return nil, err
	}
	return resp.Forced, nil
}

// ToolURL returns the interactive tool URL for a stage.
func (c *Client) ToolURL(ctx context.Context, stageID int64) (string, error) {
	var resp ToolURLResponse
	if err := c.do(ctx, http.MethodGet, "/api/stages/"+strconv.FormatInt(stageID, 10)+"/tool-url", nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// Complete finishes an interactive stage.
func (c *Client) Complete(ctx context.Context, stageID int64, completion scheduler.Completion) (*scheduler.EntryView, error) {
	var resp EntryResponse
	if err := c.do(ctx, http.MethodPost, "/api/stages/"+strconv.FormatInt(stageID, 10)+"/complete", completion, &resp); err != nil {
		return nil, err
	}
	return &resp.Entry, nil
}

// Split answers the split prompt.
func (c *Client) Split(ctx context.Context, choice string) (int, error) {
	var resp SplitResponse
	if err := c.do(ctx, http.MethodPost, "/api/split", SplitRequest{Choice: choice}, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// Report downloads the protocol report and returns the daemon-side path.
func (c *Client) Report(ctx context.Context) (string, []byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/report", nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read report: %w", err)
	}
	return resp.Header.Get("X-Report-Path"), data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	target := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	reqErr := &RequestError{Status: resp.StatusCode, RequestID: resp.Header.Get(HeaderRequestID)}
	var body ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil {
		reqErr.Message = body.Error
		reqErr.Kind = body.Kind
		if body.RequestID != "" {
			reqErr.RequestID = body.RequestID
		}
	}
	return reqErr
}
