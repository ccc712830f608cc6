// Package server exposes the hub and coordinator over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/pkg/coordinator"
	"github.com/taskmesh/taskmesh/pkg/hub"
	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
)

const shutdownTimeout = 10 * time.Second

// Decider runs the decision engine over a test recommendation. The
// coordinator implements this.
type Decider interface {
	HandleTestRecommendation(ctx context.Context, rec types.TestRecommendation) error
}

// Escalator accepts escalation requests. The supervisor implements this.
type Escalator interface {
	Escalate(ctx context.Context, taskID, projectID, errorMessage string, localRetries int) (*types.EscalationRecord, error)
}

// Server serves the task coordination API
type Server struct {
	addr      string
	hub       interfaces.TaskHub
	decider   Decider
	escalator Escalator
	logger    logger.Logger

	httpServer *http.Server
}

// New creates a server. Decider and escalator may be nil when the
// corresponding endpoints are not served.
func New(addr string, h interfaces.TaskHub, decider Decider, escalator Escalator, log logger.Logger) *Server {
	s := &Server{
		addr:      addr,
		hub:       h,
		decider:   decider,
		escalator: escalator,
		logger:    log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /subtask", s.handleSubmit)
	mux.HandleFunc("GET /task/{role}", s.handlePull)
	mux.HandleFunc("POST /report", s.handleReport)
	mux.HandleFunc("GET /subtask_status/{id}", s.handleSubtaskStatus)
	mux.HandleFunc("GET /all_subtask_statuses", s.handleAllStatuses)
	mux.HandleFunc("POST /redistribute_task", s.handleRedistribute)
	mux.HandleFunc("POST /test_recommendation", s.handleTestRecommendation)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if s.logger != nil {
			s.logger.Info(fmt.Sprintf("Serving on %s", s.addr))
		}
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Handlers

type submitResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var subtask types.Subtask
	if err := json.NewDecoder(r.Body).Decode(&subtask); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid subtask payload: %w", err))
		return
	}

	id, err := s.hub.Submit(subtask)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hub.ErrInvalidRole) || errors.Is(err, hub.ErrUnsafePath) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{Status: "received", ID: id})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	role, err := types.ParseRole(r.PathValue("role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	subtask, ok := s.hub.PullNext(role)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"message": "none"})
		return
	}
	writeJSON(w, http.StatusOK, subtask)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var report types.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid report payload: %w", err))
		return
	}

	if err := s.hub.ReportResult(report); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hub.ErrUnknownSubtask) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubtaskStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.hub.SubtaskStatus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, hub.ErrUnknownSubtask)
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.TaskState{"status": status})
}

func (s *Server) handleAllStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.AllStatuses())
}

type redistributeRequest struct {
	TaskID       string `json:"taskId"`
	ProjectID    string `json:"projectId"`
	ErrorMessage string `json:"errorMessage"`
	RetryCount   int    `json:"retryCount"`
}

func (s *Server) handleRedistribute(w http.ResponseWriter, r *http.Request) {
	if s.escalator == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no escalation handler configured"))
		return
	}

	var req redistributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid redistribution payload: %w", err))
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, errors.New("taskId is required"))
		return
	}

	record, err := s.escalator.Escalate(r.Context(), req.TaskID, req.ProjectID, req.ErrorMessage, req.RetryCount)
	if err != nil {
		if errors.Is(err, coordinator.ErrRetriesExhausted) {
			writeJSON(w, http.StatusConflict, record)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleTestRecommendation(w http.ResponseWriter, r *http.Request) {
	if s.decider == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no decision handler configured"))
		return
	}

	var rec types.TestRecommendation
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid recommendation payload: %w", err))
		return
	}

	if err := s.decider.HandleTestRecommendation(r.Context(), rec); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
