// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github-fork-graph/internal/analysis"
	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/model"
	"github-fork-graph/internal/patch"
	"github-fork-graph/internal/runlog"
)

// RunLister lists recorded runs.
type RunLister interface {
	Recent(ctx context.Context, repo string, limit int) ([]runlog.Run, error)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the services behind the API. Runs and Health are optional.
type Deps struct {
	Analysis *analysis.Service
	Patches  *patch.Engine
	Runs     RunLister
	Health   HealthChecker
}

// Handler is the container for API dependencies.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	h := &Handler{
		deps:   deps,
		logger: logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs", h.getRuns)
		r.Route("/repos/{owner}/{name}", func(r chi.Router) {
			r.Get("/", h.getInfo)
			r.Get("/forks", h.getForks)
			r.Get("/top-orgs", h.getTopOrganizations)
			r.Get("/unpatched", h.getUnpatched)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health.HealthCheck(r.Context()); err != nil {
			h.logger.Warn("Health check failed", "error", err)
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getInfo returns graph counts and cursors.
// GET /v1/repos/{owner}/{name}
func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.deps.Analysis.Info(r.Context(), repoRef(r))
	if err != nil {
		h.respondWithServiceError(w, "Failed to get repository info", err)
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

// getForks lists direct forks.
// GET /v1/repos/{owner}/{name}/forks
func (h *Handler) getForks(w http.ResponseWriter, r *http.Request) {
	forks, err := h.deps.Analysis.Forks(r.Context(), repoRef(r))
	if err != nil {
		h.respondWithServiceError(w, "Failed to list forks", err)
		return
	}
	respondWithJSON(w, http.StatusOK, forks)
}

// getTopOrganizations lists organization forks by their own fork count.
// GET /v1/repos/{owner}/{name}/top-orgs?limit=N
func (h *Handler) getTopOrganizations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	forks, err := h.deps.Analysis.TopForkingOrganizations(r.Context(), repoRef(r), limit)
	if err != nil {
		h.respondWithServiceError(w, "Failed to list top organizations", err)
		return
	}
	respondWithJSON(w, http.StatusOK, forks)
}

// getUnpatched classifies forks from stored patch dates.
// GET /v1/repos/{owner}/{name}/unpatched?date=YYYY-MM-DD
func (h *Handler) getUnpatched(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'date' parameter.")
		return
	}
	target, err := model.ParseDate(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'date' parameter. Use YYYY-MM-DD or RFC3339.")
		return
	}

	report, err := h.deps.Patches.StoredReport(r.Context(), repoRef(r), target)
	if err != nil {
		h.respondWithServiceError(w, "Failed to build patch report", err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// getRuns lists the run history.
// GET /v1/runs?repo=owner/name&limit=N
func (h *Handler) getRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		respondWithError(w, http.StatusNotFound, "Run history is not enabled")
		return
	}
	repo := r.URL.Query().Get("repo")
	if repo != "" {
		if _, err := model.ParseRepoRef(repo); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := h.deps.Runs.Recent(r.Context(), repo, limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if runs == nil {
		runs = []runlog.Run{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, msg string, err error) {
	var empty *custom_errors.EmptyDatabase
	if errors.As(err, &empty) {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}
	h.logger.Error(msg, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}

func repoRef(r *http.Request) model.RepoRef {
	return model.RepoRef{Owner: chi.URLParam(r, "owner"), Name: chi.URLParam(r, "name")}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "10"
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return 0, false
	}
	return limit, true
}
