package receipt

import (
	"context"
	"net/http"
)

// Checker runs on-demand integrity passes
type Checker interface {
	Check(ctx context.Context) ([]IntegrityIssue, error)
}

// Server handles HTTP requests for the catalogue
type Server struct {
	service *Service
	checker Checker
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, checker Checker) *Server {
	return NewServerWithMux(service, checker, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, checker Checker, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		checker: checker,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/data", s.handleData)
	s.mux.HandleFunc("GET /api/suggestions", s.handleSuggestions)
	s.mux.HandleFunc("GET /api/file", s.handleFile)

	s.mux.HandleFunc("GET /api/export/json", s.handleExportJSON)
	s.mux.HandleFunc("GET /api/export/csv", s.handleExportCSV)
	s.mux.HandleFunc("GET /api/export/xlsx", s.handleExportXLSX)
	s.mux.HandleFunc("POST /api/import/json", s.handleImportJSON)

	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/scan", s.handleScan)

	s.mux.HandleFunc("PUT /api/items/{id}", s.handleEditItem)
	s.mux.HandleFunc("DELETE /api/items/{id}", s.handleDeleteItem)

	s.mux.HandleFunc("POST /api/integrity/check", s.handleIntegrityCheck)
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
