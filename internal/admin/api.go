// Package admin serves an HTTP API for inspecting and changing the installed
// module set of a running engine.
//
// Routes:
//
//	GET    /healthz
//	GET    /modules
//	POST   /modules/{name}/install
//	DELETE /modules/{name}
//	GET    /journal?limit=N
package admin

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/engine"
	"github.com/mindzen-erp/mindzen/internal/journal"
	"github.com/mindzen-erp/mindzen/internal/kernel"
	"github.com/mindzen-erp/mindzen/internal/logging"
)

const defaultJournalLimit = 50

// API exposes an engine over HTTP. The engine does no locking, so every
// engine call made by the API holds mu.
type API struct {
	mu      sync.Mutex
	engine  *engine.Engine
	journal journal.Sink
	logger  *zap.Logger
}

// Option configures an API
type Option func(*API)

// WithJournal enables GET /journal over sink
func WithJournal(sink journal.Sink) Option {
	return func(a *API) {
		a.journal = sink
	}
}

// WithLogger sets the API logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *API) {
		a.logger = logging.OrNop(logger)
	}
}

// New creates an API over an initialized engine
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		engine: eng,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Module is the API view of a module
type Module struct {
	kernel.Metadata
	Installed bool `json:"installed"`
	Sequence  int  `json:"sequence,omitempty"`
}

// ModulesResponse is the body of module replies
type ModulesResponse struct {
	Modules   []Module `json:"modules,omitempty"`
	Installed []string `json:"installed"`
}

// Router returns the API routes
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(a.logger))
	r.Use(recoverer(a.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		renderError(w, http.StatusNotFound, "Resource not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		renderError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	r.Get("/healthz", a.health)
	r.Route("/modules", func(r chi.Router) {
		r.Get("/", a.listModules)
		r.Post("/{name}/install", a.installModule)
		r.Delete("/{name}", a.uninstallModule)
	})
	r.Get("/journal", a.listJournal)
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	initialized := a.engine.IsInitialized()
	a.mu.Unlock()

	status := http.StatusOK
	state := "ok"
	if !initialized {
		status = http.StatusServiceUnavailable
		state = "starting"
	}
	renderJSON(w, status, map[string]interface{}{
		"status":      state,
		"initialized": initialized,
	})
}

func (a *API) listModules(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reg := a.engine.Registry()
	modules := make([]Module, 0)
	for _, name := range a.engine.AvailableModules() {
		meta, _ := reg.Metadata(name)
		m := Module{Metadata: meta}
		if rec, ok := reg.Info(name); ok {
			m.Installed = true
			m.Sequence = rec.Sequence
		}
		modules = append(modules, m)
	}

	renderJSON(w, http.StatusOK, ModulesResponse{
		Modules:   modules,
		Installed: a.installed(),
	})
}

func (a *API) installModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.engine.Registry().Metadata(name); !ok {
		renderError(w, http.StatusNotFound, fmt.Sprintf("module %q not found", name), "module_not_found")
		return
	}
	if !a.engine.InstallModule(r.Context(), name) {
		renderError(w, http.StatusUnprocessableEntity, fmt.Sprintf("module %q could not be installed", name), "install_failed")
		return
	}

	a.logger.Info("Module installed via admin API", zap.String("module", name))
	renderJSON(w, http.StatusOK, ModulesResponse{Installed: a.installed()})
}

func (a *API) uninstallModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.engine.Registry().IsInstalled(name) {
		renderError(w, http.StatusNotFound, fmt.Sprintf("module %q is not installed", name), "module_not_installed")
		return
	}
	if !a.engine.UninstallModule(r.Context(), name) {
		renderError(w, http.StatusConflict, fmt.Sprintf("module %q could not be uninstalled", name), "uninstall_failed")
		return
	}

	a.logger.Info("Module uninstalled via admin API", zap.String("module", name))
	renderJSON(w, http.StatusOK, ModulesResponse{Installed: a.installed()})
}

func (a *API) listJournal(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		renderError(w, http.StatusNotFound, "journal is disabled", "journal_disabled")
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			renderError(w, http.StatusBadRequest, "limit must be a non-negative integer", "")
			return
		}
		limit = n
	}

	entries, err := a.journal.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error("Error reading journal", zap.Error(err))
		renderError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// installed must be called with mu held
func (a *API) installed() []string {
	names := a.engine.InstalledModules()
	if names == nil {
		return []string{}
	}
	return names
}
