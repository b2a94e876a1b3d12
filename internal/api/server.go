package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/logging"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Server serves the control interface and event streams of an
// orchestrator over HTTP.
type Server struct {
	engine    orchestrator.Orchestrator
	log       *logging.Logger
	mux       *http.ServeMux
	keepAlive time.Duration
	http      *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithKeepAlive sets the interval of SSE keep-alive comments.
func WithKeepAlive(d time.Duration) ServerOption {
	return func(s *Server) { s.keepAlive = d }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *logging.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer creates a Server for engine.
func NewServer(engine orchestrator.Orchestrator, opts ...ServerOption) *Server {
	s := &Server{
		engine:    engine,
		log:       logging.NopLogger(),
		mux:       http.NewServeMux(),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("POST "+RPCPath, s.handleRPC)
	s.mux.HandleFunc("GET "+eventsPath, s.handleEvents)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// Mount adds h under prefix, which must end in "/". The prefix is stripped
// before h sees the request.
func (s *Server) Mount(prefix string, h http.Handler) {
	s.mux.Handle(prefix, http.StripPrefix(prefix[:len(prefix)-1], h))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within grace.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// statsSource is implemented by engines that can count their sessions.
type statsSource interface {
	Stats() orchestrator.Stats
}

// Health is the /healthz body.
type Health struct {
	Status string              `json:"status"`
	Stats  *orchestrator.Stats `json:"stats,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{Status: "ok"}
	if src, ok := s.engine.(statsSource); ok {
		st := src.Stats()
		h.Stats = &st
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h)
}

// ---------------------------------------------------------------------------
// JSON-RPC
// ---------------------------------------------------------------------------

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req a2a.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, a2a.ErrCodeParse, "Parse error: "+err.Error())
		return
	}
	if req.JSONRPC != a2a.JSONRPCVersion {
		writeError(w, req.ID, a2a.ErrCodeInvalidRequest, "Invalid request: jsonrpc must be \"2.0\"")
		return
	}

	ctx := r.Context()
	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodStartSession:
		result, err = call(req, func(p StartParams) (any, error) {
			id, err := s.engine.StartSession(ctx, p.Inputs...)
			return StartResult{SessionID: id}, err
		})
	case MethodSubmitInput:
		result, err = call(req, func(p InputParams) (any, error) {
			return Ack{OK: true}, s.engine.SubmitInput(ctx, p.SessionID, p.Input)
		})
	case MethodResolveDecision:
		result, err = call(req, func(p ResolveParams) (any, error) {
			return s.engine.ResolveDecision(ctx, p.SessionID, p.RequestID, p.Response)
		})
	case MethodCancelSession:
		result, err = call(req, func(p SessionParams) (any, error) {
			return Ack{OK: true}, s.engine.CancelSession(ctx, p.SessionID)
		})
	case MethodGetSession:
		result, err = call(req, func(p SessionParams) (any, error) {
			return s.engine.State(p.SessionID)
		})
	case MethodListSessions:
		result, err = call(req, func(p orchestrator.ListRequest) (any, error) {
			return s.engine.List(p), nil
		})
	case MethodCloseSession:
		result, err = call(req, func(p SessionParams) (any, error) {
			return Ack{OK: true}, s.engine.CloseSession(ctx, p.SessionID)
		})
	default:
		writeError(w, req.ID, a2a.ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
		return
	}

	if err != nil {
		code := errorCode(err)
		msg := err.Error()
		if code == a2a.ErrCodeInternal {
			s.log.Error("rpc failed", "method", req.Method, "error", err)
			if !fault.IsUserFacing(err) {
				msg = "internal error"
			}
		}
		writeError(w, req.ID, code, msg)
		return
	}
	writeResult(w, req.ID, result)
}

// call decodes the params into P and runs fn. Malformed params are a
// validation fault.
func call[P any](req a2a.JSONRPCRequest, fn func(P) (any, error)) (any, error) {
	var params P
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fault.Validation(req.Method, fmt.Errorf("invalid params: %w", err))
		}
	}
	return fn(params)
}

func writeResult(w http.ResponseWriter, id any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		writeError(w, id, a2a.ErrCodeInternal, "Failed to marshal result: "+err.Error())
		return
	}
	json.NewEncoder(w).Encode(a2a.JSONRPCResponse{
		JSONRPC: a2a.JSONRPCVersion,
		ID:      id,
		Result:  data,
	})
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	json.NewEncoder(w).Encode(a2a.JSONRPCResponse{
		JSONRPC: a2a.JSONRPCVersion,
		ID:      id,
		Error:   &a2a.JSONRPCError{Code: code, Message: message},
	})
}

// ---------------------------------------------------------------------------
// Event stream
// ---------------------------------------------------------------------------

// handleEvents streams a session's events until the terminal event, the
// session closes, or the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, err := s.engine.Subscribe(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer sub.Close()

	log := s.log.WithSession(id)
	log.Debug("event stream opened", "subscriber", sub.ID)
	defer log.Debug("event stream closed", "subscriber", sub.ID)

	sw := NewSSEWriter(w)
	sw.Init()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sw.WriteComment("keep-alive"); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sw.WriteEvent(ev); err != nil {
				log.Debug("event stream write failed", "error", err)
				return
			}
			if ev.Kind.IsTerminal() {
				return
			}
		}
	}
}
