// Package http exposes the REST API and the bundled web UI: task and
// template CRUD, manual runs, batch actions, result history, plus Basic Auth,
// base-path mounting, and per-client rate limiting.
package http

import (
	"net/http"

	"github.com/nextlevelbuilder/taskd/internal/accounts"
	"github.com/nextlevelbuilder/taskd/internal/config"
	"github.com/nextlevelbuilder/taskd/internal/engine"
	"github.com/nextlevelbuilder/taskd/internal/store"
)

// Server wires the API handlers to the store and engine.
type Server struct {
	store      *store.Store
	engine     *engine.Engine
	policy     accounts.Policy
	auth       *config.AuthProvider
	basePath   string
	staticRoot string
	limiter    *RateLimiter
}

// Options carries the optional pieces of the HTTP surface.
type Options struct {
	Auth         *config.AuthProvider
	BasePath     string
	StaticRoot   string
	RateLimitRPM int
}

// NewServer builds the HTTP surface over the store and engine.
func NewServer(st *store.Store, eng *engine.Engine, policy accounts.Policy, opts Options) *Server {
	basePath := config.NormalizeBasePath(opts.BasePath)
	return &Server{
		store:      st,
		engine:     eng,
		policy:     policy,
		auth:       opts.Auth,
		basePath:   basePath,
		staticRoot: opts.StaticRoot,
		limiter:    NewRateLimiter(opts.RateLimitRPM, 0),
	}
}

// Handler returns the full middleware-wrapped handler chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api", s.handleAPIRoot)
	mux.HandleFunc("GET /api/{$}", s.handleAPIRoot)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("POST /api/tasks/batch", s.handleBatchTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/run", s.handleRunTask)
	mux.HandleFunc("POST /api/tasks/{id}/toggle", s.handleToggleTask)
	mux.HandleFunc("GET /api/tasks/{id}/results", s.handleListResults)
	mux.HandleFunc("DELETE /api/tasks/{id}/results", s.handleDeleteResults)
	mux.HandleFunc("DELETE /api/tasks/{id}/results/{resultID}", s.handleDeleteResult)

	// Compatibility alias for older UI builds.
	mux.HandleFunc("GET /api/results/{id}", s.handleListResults)

	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates/export", s.handleExportTemplates)
	mux.HandleFunc("POST /api/templates/import", s.handleImportTemplates)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", s.handleUpdateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)

	mux.Handle("/", s.staticHandler())

	var h http.Handler = mux
	h = s.basePathMiddleware(h)
	h = s.authMiddleware(h)
	h = s.rateLimitMiddleware(h)
	h = requestLogMiddleware(h)
	return h
}

func (s *Server) handleAPIRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "scheduler api"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"time":       store.FormatTime(timeNow()),
		"task_count": len(tasks),
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": s.policy.List(),
		"meta": map[string]any{
			"posix_supported": s.policy.PosixSupported(),
			"default_account": s.policy.Default(),
		},
	})
}
