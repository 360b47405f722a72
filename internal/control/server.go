// Package control exposes the operator API over JSON HTTP: strategy lifecycle, list administration
// and breaker inspection.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"swarmbot-go/internal/exception"
	"swarmbot-go/internal/lists"
	"swarmbot-go/internal/orchestrator"
	"swarmbot-go/internal/safety"
	"swarmbot-go/internal/util"
)

// Strategies is the orchestrator surface the API drives.
type Strategies interface {
	Snapshot() []orchestrator.Strategy
	Status(id string) (orchestrator.Strategy, error)
	Start(id string) (orchestrator.State, error)
	Stop(ctx context.Context, id string) (orchestrator.State, error)
	Pause(id string) (orchestrator.State, error)
	OverridePumplist(ctx context.Context, id string) (orchestrator.State, []lists.PumplistAction, error)
}

// Lists is the governor surface the API drives.
type Lists interface {
	Get(list lists.ListType) ([]lists.Entry, error)
	Add(ctx context.Context, list lists.ListType, identifier string, md lists.Metadata) (lists.Entry, error)
	UpdateListStatus(ctx context.Context, identifier string, list lists.ListType, active bool) (lists.Entry, error)
	History(ctx context.Context, list lists.ListType, identifier string) ([]lists.Entry, error)
}

// Breaker is the circuit breaker surface the API drives.
type Breaker interface {
	State() safety.BreakerState
	Reset() bool
}

// ActionResponse reports a lifecycle transition.
type ActionResponse struct {
	ID      string                 `json:"id"`
	State   orchestrator.State     `json:"state"`
	Actions []lists.PumplistAction `json:"actions,omitempty"`
}

// AddRequest is the body of POST /lists/{list}.
type AddRequest struct {
	Identifier   string  `json:"identifier"`
	Reason       string  `json:"reason,omitempty"`
	AddedBy      string  `json:"added_by,omitempty"`
	FocusMinutes int     `json:"focus_minutes,omitempty"`
	TargetType   string  `json:"target_type,omitempty"`
	MinLiquidity float64 `json:"min_liquidity,omitempty"`
}

// StatusRequest is the body of POST /lists/{list}/{id}/status.
type StatusRequest struct {
	Active bool `json:"active"`
}

// ResetResponse reports whether a reset cleared a trip.
type ResetResponse struct {
	Reset bool `json:"reset"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Server routes operator requests onto the running components.
type Server struct {
	strategies  Strategies
	lists       Lists
	breaker     Breaker
	stopTimeout time.Duration
	log         zerolog.Logger
}

// NewServer builds the control API over the orchestrator, list governor and breaker.
func NewServer(strategies Strategies, lists Lists, breaker Breaker, log zerolog.Logger) *Server {
	return &Server{
		strategies:  strategies,
		lists:       lists,
		breaker:     breaker,
		stopTimeout: 30 * time.Second,
		log:         util.Component(log, "control"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /strategies", s.handleStrategies)
	mux.HandleFunc("GET /strategies/{id}", s.handleStrategy)
	mux.HandleFunc("POST /strategies/{id}/{action}", s.handleStrategyAction)
	mux.HandleFunc("GET /lists/{list}", s.handleList)
	mux.HandleFunc("POST /lists/{list}", s.handleAdd)
	mux.HandleFunc("POST /lists/{list}/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /lists/{list}/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /safety", s.handleSafety)
	mux.HandleFunc("POST /safety/reset", s.handleReset)
	return s.logged(mux)
}

// Serve listens on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("control api listening")
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.strategies.Snapshot())
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.strategies.Status(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStrategyAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resp := ActionResponse{ID: id}
	var err error
	switch r.PathValue("action") {
	case "start":
		resp.State, err = s.strategies.Start(id)
	case "pause":
		resp.State, err = s.strategies.Pause(id)
	case "stop":
		ctx, cancel := context.WithTimeout(r.Context(), s.stopTimeout)
		defer cancel()
		resp.State, err = s.strategies.Stop(ctx, id)
	case "pumplist":
		resp.State, resp.Actions, err = s.strategies.OverridePumplist(r.Context(), id)
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown action " + r.PathValue("action"), Kind: "other"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("strategy", id).Str("action", r.PathValue("action")).Str("state", resp.State.String()).Msg("operator action")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := lists.ParseListType(r.PathValue("list"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.lists.Get(list)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []lists.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	list, err := lists.ParseListType(r.PathValue("list"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error(), Kind: "other"})
		return
	}
	md := lists.Metadata{
		Reason:        req.Reason,
		AddedBy:       req.AddedBy,
		FocusDuration: time.Duration(req.FocusMinutes) * time.Minute,
		TargetType:    req.TargetType,
		MinLiquidity:  req.MinLiquidity,
	}
	entry, err := s.lists.Add(r.Context(), list, req.Identifier, md)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	list, err := lists.ParseListType(r.PathValue("list"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error(), Kind: "other"})
		return
	}
	entry, err := s.lists.UpdateListStatus(r.Context(), r.PathValue("id"), list, req.Active)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	list, err := lists.ParseListType(r.PathValue("list"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := s.lists.History(r.Context(), list, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.breaker.State())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	cleared := s.breaker.Reset()
	s.log.Warn().Bool("cleared", cleared).Msg("circuit breaker reset by operator")
	writeJSON(w, http.StatusOK, ResetResponse{Reset: cleared})
}

// StatusCode maps an error onto the HTTP status the API reports for it.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, exception.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, exception.ErrUnknownStrategy), errors.Is(err, exception.ErrUnknownEntry):
		return http.StatusNotFound
	case errors.Is(err, exception.ErrListGovernance), errors.Is(err, exception.ErrWalletAllocation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("control request failed")
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Kind: exception.Kind(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
