// Package api exposes the validation engine over HTTP: single-address
// checks, synchronous small batches, and asynchronous CSV bulk jobs backed
// by the store and batch packages.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mailvetter/internal/batch"
	"mailvetter/internal/engine"
	"mailvetter/internal/store"
)

// Server bundles the dependencies every handler needs.
type Server struct {
	Engine     *engine.Engine
	Scheduler  *batch.Scheduler
	Store      *store.Store
	Tracker    *batch.JobTracker
	APIKey     string
	CORSOrigin string
}

// Router builds the gorilla/mux router wiring every route to its handler,
// wrapped in CORS and (where a key is configured) bearer-auth middleware.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/validate", s.handleValidateOne).Methods(http.MethodGet)
	protected.HandleFunc("/validate/batch", s.handleValidateBatch).Methods(http.MethodPost)
	protected.HandleFunc("/validate/bulk", s.handleValidateBulk).Methods(http.MethodPost)
	protected.HandleFunc("/jobs/{id}/status", s.handleJobStatus).Methods(http.MethodGet)
	protected.HandleFunc("/jobs/{id}/results", s.handleJobResults).Methods(http.MethodGet)

	return r
}

// NewHTTPServer builds a *http.Server with the same timeouts the teacher
// used, wired to this Server's router.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // bulk uploads and large synchronous batches run long
		IdleTimeout:  120 * time.Second,
	}
}
