package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/status"
)

const (
	defaultHistoryLimit = 20
	triggerTimeout      = 6 * time.Hour
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func fail(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, envelope{Success: false, Error: err.Error()})
}

// errorStatus maps control errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobInFlight),
		errors.Is(err, domain.ErrSchedulerRunning),
		errors.Is(err, domain.ErrSchedulerStopped):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type statusView struct {
	status.Snapshot
	SuccessRate   float64 `json:"success_rate"`
	TotalSizeMB   float64 `json:"total_size_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	UploadEnabled bool    `json:"upload_enabled"`
}

func newStatusView(snap status.Snapshot) statusView {
	return statusView{
		Snapshot:      snap,
		SuccessRate:   roundTo(snap.SuccessRate(), 1),
		TotalSizeMB:   roundTo(float64(snap.Counters.Bytes)/(1024*1024), 2),
		UptimeSeconds: int64(snap.TakenAt.Sub(snap.StartedAt).Seconds()),
		UploadEnabled: len(snap.Summary.UploadTargets) > 0,
	}
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ok(w, newStatusView(s.store.Snapshot()))
}

// handleHistory lists finalized runs newest first, optionally for one job.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	job := r.URL.Query().Get("job")
	if job == "" {
		ok(w, s.store.Recent(limit))
		return
	}

	if _, found := s.store.Snapshot().Job(job); !found {
		fail(w, http.StatusNotFound, fmt.Errorf("%w: %s", domain.ErrUnknownJob, job))
		return
	}
	runs := s.store.History(job)
	out := make([]domain.JobRun, 0, len(runs))
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	ok(w, out)
}

type schedulerView struct {
	Running bool               `json:"running"`
	NextRun *time.Time         `json:"next_run,omitempty"`
	Jobs    []status.JobStatus `json:"jobs"`
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	ok(w, schedulerView{Running: snap.SchedulerRunning, NextRun: snap.NextRun, Jobs: snap.Jobs})
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.StartScheduler(); err != nil {
		fail(w, errorStatus(err), err)
		return
	}
	ok(w, map[string]bool{"running": true})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.StopScheduler(r.Context()); err != nil {
		fail(w, errorStatus(err), err)
		return
	}
	ok(w, map[string]bool{"running": false})
}

// handleRunJob runs a job now. With ?wait=false it answers 202 right away
// and the run continues in the background.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, found := s.store.Snapshot().Job(name); !found {
		fail(w, http.StatusNotFound, fmt.Errorf("%w: %s", domain.ErrUnknownJob, name))
		return
	}

	if r.URL.Query().Get("wait") == "false" {
		errc := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
			defer cancel()
			_, err := s.ctl.TriggerJob(ctx, name)
			errc <- err
		}()
		// Admission errors come back immediately.
		select {
		case err := <-errc:
			if err != nil {
				fail(w, errorStatus(err), err)
				return
			}
		case <-time.After(100 * time.Millisecond):
		}
		writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]string{"job": name}})
		return
	}

	run, err := s.ctl.TriggerJob(r.Context(), name)
	if err != nil {
		fail(w, errorStatus(err), err)
		return
	}
	ok(w, run)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.logger.Infof("Shutdown requested from the dashboard by %s", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]string{"state": "shutdown_requested"}})
	go s.ctl.RequestShutdown()
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	authURL := s.oauth.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code parameter", http.StatusBadRequest)
		return
	}

	token, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusInternalServerError)
		return
	}
	if token.RefreshToken == "" {
		fmt.Fprintln(w, "No refresh token returned. Revoke the app's access and authorize again.")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Refresh token:\n%s\n\nSet it as refresh_token of the gdrive upload target.\n", token.RefreshToken)
}
