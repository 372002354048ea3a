package providers

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"speechflow/internal/services"
)

// HTTPDoer describes the HTTP client used for provider calls.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client enforcing timeout. A zero timeout disables
// the limit.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

const maxResponseBytes = 8 << 20

// PipelineResponse is the decoded WebServiceResponseLink document.
type PipelineResponse struct {
	XMLName      xml.Name `xml:"WebServiceResponseLink"`
	Success      string   `xml:"success"`
	Output       string   `xml:"output"`
	Warnings     string   `xml:"warnings"`
	DownloadLink string   `xml:"downloadLink"`
}

// Succeeded reports whether the service produced a result. Only the exact
// literal "true" counts as success.
func (r PipelineResponse) Succeeded() bool {
	return r.Success == "true" && strings.TrimSpace(r.DownloadLink) != ""
}

// Protocol returns the diagnostic text: warnings if present, else output.
func (r PipelineResponse) Protocol() string {
	if strings.TrimSpace(r.Warnings) != "" {
		return r.Warnings
	}
	return r.Output
}

// BASClient calls the runPipeline and upload endpoints of a provider host.
type BASClient struct {
	client HTTPDoer
	now    func() time.Time
}

// NewBASClient wraps client. A nil client uses http.DefaultClient.
func NewBASClient(client HTTPDoer) *BASClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &BASClient{client: client, now: time.Now}
}

// Param is one ordered query parameter.
type Param struct {
	Key   string
	Value string
}

func encodeParams(params []Param) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(parts, "&")
}

// RunPipeline posts an empty multipart form to <host>runPipelineWebLink with
// params in the query and decodes the XML answer.
func (c *BASClient) RunPipeline(ctx context.Context, host string, params []Param) (PipelineResponse, error) {
	endpoint := host + "runPipelineWebLink?" + encodeParams(params)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.Close(); err != nil {
		return PipelineResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return PipelineResponse{}, services.Wrap(services.ErrValidation, "providers", "run pipeline", "build request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	data, err := c.send(req)
	if err != nil {
		return PipelineResponse{}, err
	}
	var parsed PipelineResponse
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return PipelineResponse{}, services.Wrap(services.ErrProvider, "providers", "run pipeline", "decode response", err)
	}
	return parsed, nil
}

func (c *BASClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil || isTimeout(err) {
			return nil, services.Wrap(services.ErrTimeout, "providers", req.Method, req.URL.Host, err)
		}
		return nil, services.Wrap(services.ErrProvider, "providers", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrProvider, "providers", req.Method, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrProvider, "providers", req.Method,
			fmt.Sprintf("%s returned %d", req.URL.Host, resp.StatusCode), nil)
	}
	return data, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Exists reports whether rawURL answers a HEAD request with a 2xx status.
func (c *BASClient) Exists(ctx context.Context, rawURL string) bool {
	if rawURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Fetch downloads rawURL as text. A d=<unix ms> parameter defeats caches.
func (c *BASClient) Fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "providers", "fetch", "parse url", err)
	}
	query := parsed.Query()
	query.Set("d", strconv.FormatInt(c.now().UnixMilli(), 10))
	parsed.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "providers", "fetch", "build request", err)
	}
	data, err := c.send(req)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
