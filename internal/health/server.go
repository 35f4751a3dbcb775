package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Server exposes the health report on GET /healthz.
type Server struct {
	server  *http.Server
	checker *Checker
}

// Response is the /healthz body.
type Response struct {
	Status string `json:"status"`
	Report Report `json:"report"`
}

// NewServer creates a health server listening on port on all interfaces.
func NewServer(checker *Checker, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		checker: checker,
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// Start binds the listener and serves in a background goroutine. It
// returns an error if the port cannot be bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	go func() {
		log.Printf("[DEBUG] Health server starting on %s", s.server.Addr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] Health server error: %v", err)
		}
		log.Printf("[DEBUG] Health server stopped")
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[DEBUG] Shutting down health server...")
	return s.server.Shutdown(ctx)
}

// handleHealthz returns 200 with {"status":"healthy"} or 503 with
// {"status":"unhealthy"}, always including the full report.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	report := s.checker.Check(r.Context())
	resp := Response{Status: "healthy", Report: report}
	statusCode := http.StatusOK
	if !report.Healthy() {
		resp.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[ERROR] Failed to encode health response: %v", err)
	}
}
