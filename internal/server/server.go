package server

import (
	"context"
	"net/http"
)

// Server wraps the local read-only HTTP surface.
type Server struct {
	httpServer *http.Server
}

// New builds a Server listening on addr, wired with state's handlers.
func New(addr string, state *State) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: NewMux(state),
		},
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
