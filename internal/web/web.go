// Package web serves the local hand-off pages that complete a webcal
// subscription or a course selection, plus the published calendars, an
// export API and a progress websocket.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"uspacecal/internal/config"
	"uspacecal/internal/directory"
	appLog "uspacecal/internal/log"
	"uspacecal/internal/model"
	"uspacecal/internal/pipeline"
	"uspacecal/internal/session"
	"uspacecal/internal/store"
)

// Runner runs exports. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, cookies directory.CookieSource, req model.DeliveryRequest, progress pipeline.ProgressFunc) pipeline.Result
	Running() bool
}

// Sessions yields the stored portal session.
type Sessions interface {
	Current() (*session.Session, error)
}

// Server provides the hand-off pages and the export API.
type Server struct {
	cfg       *config.Config
	store     store.Store
	runner    Runner
	sessions  Sessions
	publisher *FeedPublisher
	progress  *Broadcaster
	mux       *http.ServeMux
}

// NewServer constructs a new Server. runner and sessions may be nil, in
// which case the export API answers 503.
func NewServer(cfg *config.Config, st store.Store, runner Runner, sessions Sessions, publisher *FeedPublisher, progress *Broadcaster) *Server {
	if publisher == nil {
		publisher = NewFeedPublisher()
	}
	if progress == nil {
		progress = NewBroadcaster()
	}
	s := &Server{
		cfg:       cfg,
		store:     st,
		runner:    runner,
		sessions:  sessions,
		publisher: publisher,
		progress:  progress,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", s.cfg.HandoffURL)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="uspacecal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting hand-off server", "listen", s.cfg.HandoffURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("hand-off server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /webcal-help", s.handleWebcalHelp)
	s.mux.HandleFunc("GET /course-webcal", s.handleCourseWebcal)
	s.mux.HandleFunc("GET /calendar/{name}", s.publisher.ServeHTTP)
	s.mux.HandleFunc("GET /ws/progress", s.progress.HandleConnections)
	s.mux.HandleFunc("POST /api/export", s.handleExport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// exportResponse is the JSON response shape for /api/export.
type exportResponse struct {
	Success     bool   `json:"success"`
	CourseCount int    `json:"courseCount"`
	Message     string `json:"message,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Calendar    string `json:"calendar,omitempty"`
}

// handleExport runs one export and publishes the artifact under /calendar/.
//
// POST /api/export?semester=2024W&mode=merged
//   - semester: defaults to config.Semester
//   - mode:     merged (default) or batch
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil || s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}
	if s.runner.Running() {
		writeError(w, http.StatusConflict, pipeline.ErrRunInProgress.Error())
		return
	}

	q := r.URL.Query()
	semester := q.Get("semester")
	if semester == "" && s.cfg != nil {
		semester = s.cfg.Semester
	}
	if semester == "" {
		writeError(w, http.StatusBadRequest, "semester is required")
		return
	}
	mode := model.ModeMerged
	if raw := q.Get("mode"); raw != "" {
		m, err := model.ParseMode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	sess, err := s.sessions.Current()
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	// The run outlives a client that hangs up; progress still reaches /ws/progress.
	req := model.DeliveryRequest{Mode: mode, Transport: model.TransportDownload, Semester: semester}
	res := s.runner.Run(context.WithoutCancel(r.Context()), sess, req, s.progress.Progress)
	if errors.Is(res.Err, pipeline.ErrRunInProgress) {
		writeError(w, http.StatusConflict, res.Message)
		return
	}

	resp := exportResponse{
		Success:     res.Success,
		CourseCount: res.CourseCount,
		Message:     res.Message,
		Mode:        string(res.EffectiveMode),
	}
	if res.Success {
		resp.Calendar = "/calendar/" + artifactName(res.EffectiveMode, semester)
	}
	writeJSON(w, http.StatusOK, resp)
}

func artifactName(mode model.Mode, semester string) string {
	if mode == model.ModeBatch {
		return model.ArchiveFilename(semester)
	}
	return model.MergedFilename(semester)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
