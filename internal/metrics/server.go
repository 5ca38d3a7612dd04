package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics, /health, and /ready over HTTP.
type Server struct {
	router *mux.Router
	ready  atomic.Bool
}

// NewServer builds the metrics/health HTTP server. ready starts false;
// call SetReady(true) once the control loop has executed its first
// cycle.
func NewServer() *Server {
	s := &Server{router: mux.NewRouter()}
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	return s
}

// SetReady flips the /ready endpoint's reported status.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Handler returns the http.Handler to pass to http.Serve or
// http.ListenAndServe.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("not ready"))
}
