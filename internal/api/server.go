package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/autominion/minion/internal/inquiry"
	"github.com/autominion/minion/internal/llm"
	"github.com/autominion/minion/internal/log"
)

// RunContext carries the immutable per-run state served to the agent.
// It is owned by the Server for the run's lifetime; handlers only read it.
type RunContext struct {
	TaskDescription string
	GitUserName     string
	GitUserEmail    string
	GitRepoURL      string
	GitBranch       string
	RepoPath        string
	Router          llm.RouterTable
	Token           string
}

// Server is the control-plane HTTP server, bound to the bridge-reachable
// host address and bearer-authenticated for agent-originated calls.
type Server struct {
	runCtx  RunContext
	broker  *inquiry.Broker
	router  *llm.Router
	outcome *outcomeSlot
	server  *http.Server
}

// NewServer creates a control-plane server. recorder may be nil.
func NewServer(runCtx RunContext, broker *inquiry.Broker, recorder llm.Recorder) *Server {
	s := &Server{
		runCtx:  runCtx,
		broker:  broker,
		router:  llm.NewRouter(runCtx.Router, recorder),
		outcome: newOutcomeSlot(),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second, // Prevent Slowloris attacks
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /api/agent/task", s.auth(s.handleTask))
	mux.Handle("POST /api/agent/task/complete", s.auth(s.handleTaskComplete))
	mux.Handle("POST /api/agent/task/fail", s.auth(s.handleTaskFail))
	mux.Handle("POST /api/agent/inquiry", s.auth(s.handleInquiry))
	mux.Handle("GET /api/agent/inquiry_request", s.auth(s.handleInquiryRequest))
	mux.Handle("POST /api/agent/inquiry_response", s.auth(s.handleInquiryResponse))
	mux.Handle("POST /api/agent/v1/chat/completions", s.auth(s.router.ServeHTTP))
	if s.runCtx.RepoPath != "" {
		git, err := gitHandler(s.runCtx.RepoPath)
		if err != nil {
			log.Warn("git endpoint disabled", "error", err)
		} else {
			mux.Handle("/api/agent/git/", s.authBasic(git.ServeHTTP))
		}
	}
	return mux
}

// Start serves on the listener in the background.
func (s *Server) Start(listener net.Listener) {
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control-plane server stopped", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Outcome returns the one-shot channel carrying the run's outcome. It
// receives exactly when /task/complete or /task/fail has been accepted.
func (s *Server) Outcome() <-chan Outcome {
	return s.outcome.ch
}

// auth enforces the run's bearer credential.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.runCtx.Token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

// authBasic enforces the run credential for git clients, which carry the
// token as the Basic-auth password embedded in the clone URL.
func (s *Server) authBasic(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(s.runCtx.Token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="minion"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

type taskResponse struct {
	Status       string `json:"status"`
	Description  string `json:"description"`
	GitUserName  string `json:"git_user_name"`
	GitUserEmail string `json:"git_user_email"`
	GitRepoURL   string `json:"git_repo_url"`
	GitBranch    string `json:"git_branch"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, taskResponse{
		Status:       "running",
		Description:  s.runCtx.TaskDescription,
		GitUserName:  s.runCtx.GitUserName,
		GitUserEmail: s.runCtx.GitUserEmail,
		GitRepoURL:   s.runCtx.GitRepoURL,
		GitBranch:    s.runCtx.GitBranch,
	})
}

type outcomeRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	s.recordOutcome(w, r, OutcomeCompleted)
}

func (s *Server) handleTaskFail(w http.ResponseWriter, r *http.Request) {
	s.recordOutcome(w, r, OutcomeFailed)
}

func (s *Server) recordOutcome(w http.ResponseWriter, r *http.Request, status OutcomeStatus) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.outcome.fill(Outcome{Status: status, Description: req.Description}); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	log.Info("task outcome recorded", "status", status, "description", req.Description)
	w.WriteHeader(http.StatusOK)
}

type inquiryRequest struct {
	Inquiry string `json:"inquiry"`
}

// handleInquiry blocks the agent's request until the human answers.
func (s *Server) handleInquiry(w http.ResponseWriter, r *http.Request) {
	var req inquiryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	answer, err := s.broker.Ask(r.Context(), req.Inquiry)
	switch {
	case errors.Is(err, inquiry.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, inquiry.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		// Context cancellation: the agent hung up, nothing to write.
		return
	}
	writeJSON(w, answer)
}

func (s *Server) handleInquiryRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s.broker.Peek())
}

func (s *Server) handleInquiryResponse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	if err := s.broker.Answer(string(body)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("encoding response", "error", err)
	}
}
