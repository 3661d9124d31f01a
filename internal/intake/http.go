package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// StatusFunc reports the agent state served at GET /status.
type StatusFunc func(ctx context.Context) interface{}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP transport for the registry.
type Server struct {
	addr     string
	registry *Registry
	status   StatusFunc
	logger   *zap.Logger
	router   chi.Router
}

// NewServer creates the HTTP transport listening on addr.
func NewServer(addr string, registry *Registry, status StatusFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, registry: registry, status: status, logger: logger}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/events", s.handleEvent)
	r.Get("/status", s.handleStatus)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Debug("failed to write health check response", zap.Error(err))
		}
	})
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&msg); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	value, err := s.registry.Dispatch(ctx, msg).Await(ctx)
	switch {
	case errors.Is(err, ErrInvalid):
		s.respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrUnknownKind):
		s.respond(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		s.logger.Error("event handler failed",
			zap.String("action", string(msg.Action)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		s.respond(w, http.StatusInternalServerError, errorResponse{Error: "event handling failed"})
	default:
		s.respond(w, http.StatusOK, value)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.respond(w, http.StatusOK, map[string]string{})
		return
	}
	s.respond(w, http.StatusOK, s.status(r.Context()))
}

func (s *Server) respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("event intake listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
