package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"speechflow/internal/api"
	"speechflow/internal/events"
	"speechflow/internal/ingest"
	"speechflow/internal/logging"
	"speechflow/internal/metrics"
	"speechflow/internal/pipeline"
	"speechflow/internal/scheduler"
	"speechflow/internal/services"
)

type stubController struct {
	mu          sync.Mutex
	processing  bool
	enqueued    []string
	completions map[int64]scheduler.Completion
	split       ingest.SplitChoice
}

func newStubController() *stubController {
	return &stubController{completions: make(map[int64]scheduler.Completion)}
}

func (c *stubController) Status(context.Context) (scheduler.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return scheduler.Status{Processing: c.processing, Language: "deu-DE", ASR: "Google"}, nil
}

func (c *stubController) SetProcessing(_ context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = on
	return nil
}

func (c *stubController) Snapshot(context.Context) ([]scheduler.EntryView, error) {
	return []scheduler.EntryView{{
		ID:   1,
		Type: "task",
		Pipeline: &scheduler.PipelineView{
			ID:     1,
			State:  "READY",
			Stages: []scheduler.StageView{{ID: 7, Name: "OCTRA", State: "READY", Interactive: true}},
		},
	}}, nil
}

func (c *stubController) Entry(_ context.Context, id int64) (scheduler.EntryView, error) {
	if id != 1 {
		return scheduler.EntryView{}, services.Wrap(services.ErrNotFound, "scheduler", "entry", "no such entry", nil)
	}
	entries, _ := c.Snapshot(context.Background())
	return entries[0], nil
}

func (c *stubController) Remove(_ context.Context, id int64) error {
	if id != 1 {
		return services.Wrap(services.ErrNotFound, "scheduler", "remove", "no such entry", nil)
	}
	return nil
}

func (c *stubController) Enqueue(paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, services.Wrap(services.ErrValidation, "scheduler", "enqueue", "no paths given", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueued = append(c.enqueued, paths...)
	return len(paths), nil
}

func (c *stubController) Confirm(context.Context) (int, error) { return 2, nil }

func (c *stubController) SetLanguage(_ context.Context, code, _ string) error {
	if code != "deu-DE" && code != "eng-GB" {
		return services.Wrap(services.ErrValidation, "scheduler", "set language", "unknown language", nil)
	}
	return nil
}

func (c *stubController) ToggleStage(_ context.Context, position int, enabled bool) ([]int, error) {
	if !enabled && position == 2 {
		return []int{1}, nil
	}
	return nil, nil
}

func (c *stubController) ToolURL(_ context.Context, stageID int64) (string, error) {
	if stageID != 7 {
		return "", services.Wrap(services.ErrNotFound, "scheduler", "tool url", "no such stage", nil)
	}
	return "https://tool.example/user/load?audio=x", nil
}

func (c *stubController) Complete(_ context.Context, stageID int64, completion scheduler.Completion) error {
	if stageID != 7 {
		return services.Wrap(services.ErrNotFound, "scheduler", "complete", "no such stage", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions[stageID] = completion
	return nil
}

func (c *stubController) SetSplit(_ context.Context, choice ingest.SplitChoice) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.split = choice
	return 1, nil
}

func (c *stubController) Report(context.Context) (string, []byte, error) {
	return "/tmp/reports/speechflow-report.json", []byte(`{"entries":[]}`), nil
}

func (c *stubController) completion(id int64) (scheduler.Completion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	got, ok := c.completions[id]
	return got, ok
}

func newTestServer(t *testing.T, token string) (*api.Server, *stubController, *events.Hub) {
	t.Helper()
	ctl := newStubController()
	hub := events.NewHub(0)
	srv, err := api.NewServer(api.Options{
		Bind:       "127.0.0.1:0",
		Token:      token,
		Controller: ctl,
		Events:     hub,
		Metrics:    metrics.New(),
		Info:       api.DaemonInfo{PID: 42, Version: "test"},
		Logger:     logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, ctl, hub
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNewServerRequiresBindAndController(t *testing.T) {
	if _, err := api.NewServer(api.Options{Bind: "127.0.0.1:0"}); err == nil {
		t.Fatal("expected error without controller")
	}
	_, err := api.NewServer(api.Options{Controller: newStubController()})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAuthRequiresBearerToken(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/status?token=secret", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("query token must only be honoured for websocket upgrades, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}
	status := decodeBody[api.StatusResponse](t, rec)
	if status.Daemon.PID != 42 || status.Scheduler.Language != "deu-DE" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRequestIDEchoedAndGenerated(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/status", "", map[string]string{api.HeaderRequestID: "req-123"})
	if got := rec.Header().Get(api.HeaderRequestID); got != "req-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/status", "", nil)
	if got := rec.Header().Get(api.HeaderRequestID); len(got) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", got)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/pipelines/99", "", map[string]string{api.HeaderRequestID: "req-404"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decodeBody[api.ErrorResponse](t, rec)
	if body.RequestID != "req-404" || body.Kind != "not_found" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestProcessingToggle(t *testing.T) {
	srv, ctl, _ := newTestServer(t, "")
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/processing/start", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	if status := decodeBody[api.StatusResponse](t, rec); !status.Scheduler.Processing {
		t.Fatal("expected processing in response")
	}
	rec = doRequest(t, srv.Handler(), http.MethodPost, "/api/processing/stop", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: %d", rec.Code)
	}
	if st, _ := ctl.Status(context.Background()); st.Processing {
		t.Fatal("expected processing stopped")
	}
	rec = doRequest(t, srv.Handler(), http.MethodPost, "/api/processing/pause", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", rec.Code)
	}
}

func TestEnqueueValidation(t *testing.T) {
	srv, ctl, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/pipelines", `{"paths":[]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty paths, got %d", rec.Code)
	}
	if body := decodeBody[api.ErrorResponse](t, rec); body.Kind != "validation_error" {
		t.Fatalf("expected validation kind, got %+v", body)
	}
	rec = doRequest(t, h, http.MethodPost, "/api/pipelines", `{"paths":["a.wav"],"extra":1}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/pipelines", `{"paths":["/in/a.wav","/in/a.TextGrid"]}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[api.EnqueueResponse](t, rec); resp.Queued != 2 {
		t.Fatalf("expected 2 queued, got %d", resp.Queued)
	}
	if len(ctl.enqueued) != 2 {
		t.Fatalf("controller saw %v", ctl.enqueued)
	}
}

func TestEntryRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/pipelines", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if list := decodeBody[api.EntriesResponse](t, rec); len(list.Entries) != 1 || list.Entries[0].Pipeline == nil {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/pipelines/1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, "/api/pipelines/1", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, "/api/pipelines/5", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete unknown: %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPut, "/api/pipelines/1", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/pipelines/confirm", "", nil)
	if resp := decodeBody[api.ConfirmResponse](t, rec); resp.Confirmed != 2 {
		t.Fatalf("unexpected confirm %+v", resp)
	}
}

func TestSettingsRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/language", `{"code":"xx-XX"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown language, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPost, "/api/language", `{"code":"eng-GB","asr":"Google"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("language: %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/stages/2/enabled", `{"enabled":false}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: %d", rec.Code)
	}
	if resp := decodeBody[api.StageToggleResponse](t, rec); len(resp.Forced) != 1 || resp.Forced[0] != 1 {
		t.Fatalf("unexpected forced %+v", resp)
	}
	rec = doRequest(t, h, http.MethodPost, "/api/stages/3/enabled", `{"enabled":true}`, nil)
	if body := rec.Body.String(); !strings.Contains(body, `"forced":[]`) {
		t.Fatalf("expected empty forced list, got %s", body)
	}
}

func TestSplitRoute(t *testing.T) {
	srv, ctl, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/split", `{"choice":"third"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPost, "/api/split", `{"choice":"first"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("split: %d %s", rec.Code, rec.Body.String())
	}
	if ctl.split != ingest.SplitFirst {
		t.Fatalf("expected FIRST, got %q", ctl.split)
	}
}

func TestToolURLAndComplete(t *testing.T) {
	srv, ctl, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/stages/7/tool-url", "", nil)
	if resp := decodeBody[api.ToolURLResponse](t, rec); !strings.HasPrefix(resp.URL, "https://tool.example/") {
		t.Fatalf("unexpected tool url %+v", resp)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/stages/8/tool-url", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/stages/9/complete", `{"url":"https://x/r.par"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown stage, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPost, "/api/stages/7/complete", `{"url":"https://x/r.par","name":"rec"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[api.EntryResponse](t, rec); resp.Entry.ID != 1 {
		t.Fatalf("unexpected entry %+v", resp)
	}
	got, ok := ctl.completion(7)
	if !ok || got.URL != "https://x/r.par" || got.Name != "rec" {
		t.Fatalf("unexpected completion %+v", got)
	}
}

func TestReportAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/report", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report: %d", rec.Code)
	}
	if rec.Header().Get("X-Report-Path") != "/tmp/reports/speechflow-report.json" {
		t.Fatalf("missing report path header: %v", rec.Header())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "speechflow-report.json") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}

	rec = doRequest(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "speechflow_processing_active") {
		t.Fatalf("metrics output missing collector")
	}
}

func TestClientAgainstServer(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	client, err := api.NewClient(strings.TrimPrefix(ts.URL, "http://"), "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.SetProcessing(ctx, true); err != nil {
		t.Fatalf("SetProcessing: %v", err)
	}
	entry, err := client.Entry(ctx, 1)
	if err != nil || entry.Pipeline == nil {
		t.Fatalf("Entry: %+v %v", entry, err)
	}
	_, err = client.Entry(ctx, 2)
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusNotFound || reqErr.Kind != "not_found" {
		t.Fatalf("expected not found request error, got %v", err)
	}
	if err := client.Remove(ctx, 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	path, data, err := client.Report(ctx)
	if err != nil || path == "" || len(data) == 0 {
		t.Fatalf("Report: %q %q %v", path, data, err)
	}

	anon, _ := api.NewClient(ts.URL, "")
	if _, err := anon.Status(ctx); !errors.As(err, &reqErr) || reqErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	down, _ := api.NewClient("127.0.0.1:1", "")
	if _, err := down.Status(ctx); !errors.Is(err, api.ErrDaemonUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func dialEvents(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", wsURL, err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) api.ServerMessage {
	t.Helper()
	var msg api.ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestEventsWebsocket(t *testing.T) {
	srv, ctl, hub := newTestServer(t, "secret")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	hub.Publish(events.Event{Type: string(pipeline.EventStageState), StageID: 7, Old: "PENDING", New: "READY"})

	conn := dialEvents(t, ts, "?token=secret")
	msg := readMessage(t, conn)
	if msg.Type != api.MessageEvent || msg.Event == nil || msg.Event.StageID != 7 || msg.Event.New != "READY" {
		t.Fatalf("unexpected first message %+v", msg)
	}

	if err := conn.WriteJSON(api.ClientMessage{Type: api.MessageCompletion, StageID: 7, URL: "https://x/done.par", Message: "saved"}); err != nil {
		t.Fatalf("write completion: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != api.MessageAck || msg.StageID != 7 {
		t.Fatalf("expected ack, got %+v", msg)
	}
	if got, ok := ctl.completion(7); !ok || got.Message != "saved" {
		t.Fatalf("completion not forwarded: %+v", got)
	}

	if err := conn.WriteJSON(api.ClientMessage{Type: api.MessageCompletion, StageID: 3}); err != nil {
		t.Fatalf("write completion: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != api.MessageError || msg.StageID != 3 {
		t.Fatalf("expected error for unknown stage, got %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != api.MessageError {
		t.Fatalf("expected error for invalid json, got %+v", msg)
	}

	hub.Publish(events.Event{Type: string(pipeline.EventStageState), StageID: 7, Old: "READY", New: "FINISHED"})
	if msg := readMessage(t, conn); msg.Event == nil || msg.Event.New != "FINISHED" {
		t.Fatalf("expected live event, got %+v", msg)
	}
}

func TestEventsWebsocketRejectsMissingToken(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake, got %v", resp)
	}
}

func TestEventsWebsocketResumesFromSequence(t *testing.T) {
	srv, _, hub := newTestServer(t, "")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	hub.Publish(events.Event{Type: string(pipeline.EventStageState), StageID: 1})
	second := hub.Publish(events.Event{Type: string(pipeline.EventStageState), StageID: 2})

	conn := dialEvents(t, ts, "?since=1")
	msg := readMessage(t, conn)
	if msg.Event == nil || msg.Event.Sequence != second || msg.Event.StageID != 2 {
		t.Fatalf("expected resume at sequence %d, got %+v", second, msg)
	}

	if err := conn.WriteJSON(api.ClientMessage{Type: api.MessagePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != api.MessagePong {
		t.Fatalf("expected pong, got %+v", msg)
	}
}
