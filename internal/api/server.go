package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"speechflow/internal/events"
	"speechflow/internal/ingest"
	"speechflow/internal/logging"
	"speechflow/internal/metrics"
	"speechflow/internal/pipeline"
	"speechflow/internal/scheduler"
	"speechflow/internal/services"
)

// Controller is the scheduler surface the API drives.
type Controller interface {
	Status(ctx context.Context) (scheduler.Status, error)
	SetProcessing(ctx context.Context, on bool) error
	Snapshot(ctx context.Context) ([]scheduler.EntryView, error)
	Entry(ctx context.Context, id int64) (scheduler.EntryView, error)
	Remove(ctx context.Context, id int64) error
	Enqueue(paths []string) (int, error)
	Confirm(ctx context.Context) (int, error)
	SetLanguage(ctx context.Context, code, asr string) error
	ToggleStage(ctx context.Context, position int, enabled bool) ([]int, error)
	ToolURL(ctx context.Context, stageID int64) (string, error)
	Complete(ctx context.Context, stageID int64, completion scheduler.Completion) error
	SetSplit(ctx context.Context, choice ingest.SplitChoice) (int, error)
	Report(ctx context.Context) (string, []byte, error)
}

// Options configures the API server.
type Options struct {
	Bind       string
	Token      string
	Controller Controller
	Events     *events.Hub
	Metrics    *metrics.Metrics
	Info       DaemonInfo
	Logger     *slog.Logger
}

// Server is the daemon's HTTP server.
type Server struct {
	bind   string
	token  string
	ctl    Controller
	events *events.Hub
	info   DaemonInfo
	logger *slog.Logger

	router   *mux.Router
	upgrader websocket.Upgrader

	listener net.Listener
	server   *http.Server
}

// NewServer builds the router. The listener is opened by Start.
func NewServer(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("api server requires a controller")
	}
	bind := strings.TrimSpace(opts.Bind)
	if bind == "" {
		return nil, services.Wrap(services.ErrConfiguration, "api", "new server", "paths.api_bind is empty", nil)
	}
	s := &Server{
		bind:   bind,
		token:  strings.TrimSpace(opts.Token),
		ctl:    opts.Controller,
		events: opts.Events,
		info:   opts.Info,
		logger: logging.NewComponentLogger(opts.Logger, "api-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The interactive tools run in the browser on another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware, s.authMiddleware)
	router.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)

	routes := router.PathPrefix("/api").Subrouter()
	routes.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	routes.HandleFunc("/processing/{action:start|stop}", s.handleProcessing).Methods(http.MethodPost)
	routes.HandleFunc("/pipelines", s.handleListEntries).Methods(http.MethodGet)
	routes.HandleFunc("/pipelines", s.handleEnqueue).Methods(http.MethodPost)
	routes.HandleFunc("/pipelines/confirm", s.handleConfirm).Methods(http.MethodPost)
	routes.HandleFunc("/pipelines/{id:[0-9]+}", s.handleGetEntry).Methods(http.MethodGet)
	routes.HandleFunc("/pipelines/{id:[0-9]+}", s.handleRemoveEntry).Methods(http.MethodDelete)
	routes.HandleFunc("/language", s.handleLanguage).Methods(http.MethodPost)
	routes.HandleFunc("/stages/{position:[0-9]+}/enabled", s.handleToggleStage).Methods(http.MethodPost)
	routes.HandleFunc("/stages/{id:[0-9]+}/tool-url", s.handleToolURL).Methods(http.MethodGet)
	routes.HandleFunc("/stages/{id:[0-9]+}/complete", s.handleComplete).Methods(http.MethodPost)
	routes.HandleFunc("/split", s.handleSplit).Methods(http.MethodPost)
	routes.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	routes.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	s.router = router

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start opens the listener and serves until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down. Websocket connections are hijacked and end
// when their request context is cancelled.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ctl.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Daemon: s.info, Scheduler: status})
}

func (s *Server) handleProcessing(w http.ResponseWriter, r *http.Request) {
	on := mux.Vars(r)["action"] == "start"
	if err := s.ctl.SetProcessing(r.Context(), on); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ctl.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []scheduler.EntryView{}
	}
	s.writeJSON(w, http.StatusOK, EntriesResponse{Entries: entries})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.ctl.Enqueue(req.Paths)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, EnqueueResponse{Queued: n})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	n, err := s.ctl.Confirm(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ConfirmResponse{Confirmed: n})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	entry, err := s.ctl.Entry(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, EntryResponse{Entry: entry})
}

func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.ctl.Remove(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request) {
	var req LanguageRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ctl.SetLanguage(r.Context(), req.Code, req.ASR); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleToggleStage(w http.ResponseWriter, r *http.Request) {
	position, ok := s.pathID(w, r, "position")
	if !ok {
		return
	}
	var req StageToggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	forced, err := s.ctl.ToggleStage(r.Context(), int(position), req.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if forced == nil {
		forced = []int{}
	}
	s.writeJSON(w, http.StatusOK, StageToggleResponse{Forced: forced})
}

func (s *Server) handleToolURL(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	url, err := s.ctl.ToolURL(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ToolURLResponse{URL: url})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var completion scheduler.Completion
	if r.ContentLength != 0 {
		if !s.decode(w, r, &completion) {
			return
		}
	}
	if err := s.ctl.Complete(r.Context(), id, completion); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetStageEntry(w, r, id)
}

// handleGetStageEntry answers a completion with the entry holding the stage.
func (s *Server) handleGetStageEntry(w http.ResponseWriter, r *http.Request, stageID int64) {
	entries, err := s.ctl.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for _, entry := range entries {
		if entryHasStage(entry, stageID) {
			s.writeJSON(w, http.StatusOK, EntryResponse{Entry: entry})
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func entryHasStage(entry scheduler.EntryView, stageID int64) bool {
	pipelines := entry.Entries
	if entry.Pipeline != nil {
		pipelines = append(pipelines, *entry.Pipeline)
	}
	for _, p := range pipelines {
		for _, st := range p.Stages {
			if st.ID == stageID {
				return true
			}
		}
	}
	return false
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if !s.decode(w, r, &req) {
		return
	}
	choice, err := ingest.ParseSplitChoice(req.Choice)
	if err != nil {
		s.fail(w, r, services.Wrap(services.ErrValidation, "api", "split", "", err))
		return
	}
	removed, err := s.ctl.SetSplit(r.Context(), choice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SplitResponse{Removed: removed})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	path, data, err := s.ctl.Report(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if path != "" {
		w.Header().Set("X-Report-Path", path)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", baseName(path)))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func baseName(path string) string {
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid %s", key))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// statusFor maps the marker carried by err to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDuplicateEntry), errors.Is(err, pipeline.ErrNotInteractive):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	} else {
		logger.Debug("api request rejected",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeError(w, r, status, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	if kind := services.Marker(err); kind != "unknown" {
		resp.Kind = kind
	}
	if id, ok := services.RequestIDFromContext(r.Context()); ok {
		resp.RequestID = id
	}
	s.writeJSON(w, status, resp)
}
