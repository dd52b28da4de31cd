package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/health"
	"github.com/repohealth/orchestrator/internal/scheduler"
	"github.com/repohealth/orchestrator/internal/store"
)

// Router exposes the operator surface: trigger and steer batch runs,
// inspect jobs and results, and manage the dead-letter queue.
type Router struct {
	store *store.Store
	sched *scheduler.Scheduler
	cache *health.Cache // optional
}

// NewRouter builds the HTTP handler.
func NewRouter(st *store.Store, sched *scheduler.Scheduler, cache *health.Cache) http.Handler {
	rt := &Router{store: st, sched: sched, cache: cache}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(LimitBody)

	r.Get("/healthz", rt.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/batches/trigger", rt.handleTriggerBatch)
		r.Get("/batches/{batchID}", rt.handleGetBatch)

		r.Get("/runs/{runID}", rt.handleGetRun)
		r.Get("/runs/{runID}/jobs", rt.handleListRunJobs)
		r.Post("/runs/{runID}/pause", rt.handlePauseRun)
		r.Post("/runs/{runID}/resume", rt.handleResumeRun)

		r.Get("/jobs/{jobID}", rt.handleGetJob)

		r.Get("/dead-letter", rt.handleListDead)
		r.Post("/dead-letter/sweep", rt.handleSweepDead)
		r.Post("/dead-letter/{jobID}/retry", rt.handleRetryDead)

		r.Post("/teams/{teamID}/reanalyze", rt.handleReanalyze)
		r.Get("/teams/{teamID}/health", rt.handleTeamHealth)
		r.Get("/teams/{teamID}/snapshots", rt.handleTeamSnapshots)
	})

	return r
}

func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
		"kv_rtt": rt.store.Ping(r.Context()).String(),
	}
	if rt.cache != nil {
		if err := rt.cache.Ping(r.Context()); err != nil {
			status["cache"] = "unreachable"
		} else {
			status["cache"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) handleTriggerBatch(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	run, err := rt.sched.WeeklyKickoff(r.Context(), force)
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeJSON(w, http.StatusOK, map[string]any{"triggered": false, "reason": "no eligible teams"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true, "run": run})
}

func (rt *Router) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := rt.store.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (rt *Router) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := rt.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) handleListRunJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := rt.store.ListJobsByRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (rt *Router) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	if err := rt.sched.PauseRun(r.Context(), chi.URLParam(r, "runID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"paused": true})
}

func (rt *Router) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	if err := rt.sched.ResumeRun(r.Context(), chi.URLParam(r, "runID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"resumed": true})
}

func (rt *Router) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := rt.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) handleListDead(w http.ResponseWriter, r *http.Request) {
	ids, err := rt.store.ListDead(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jobs := make([]*core.AnalysisJob, 0, len(ids))
	for _, id := range ids {
		job, err := rt.store.GetJob(r.Context(), id)
		if err != nil {
			slog.Warn("dead-letter index entry without job record", "job_id", id)
			continue
		}
		jobs = append(jobs, job)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (rt *Router) handleSweepDead(w http.ResponseWriter, r *http.Request) {
	if err := rt.sched.SweepDeadLetter(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"swept": true})
}

func (rt *Router) handleRetryDead(w http.ResponseWriter, r *http.Request) {
	if err := rt.sched.RetryDead(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requeued": true})
}

func (rt *Router) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	job, eligibility, err := rt.sched.Reanalyze(r.Context(), chi.URLParam(r, "teamID"), force)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, map[string]any{"accepted": false, "eligibility": eligibility})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "job": job})
}

func (rt *Router) handleTeamHealth(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	if rt.cache != nil {
		entry, err := rt.cache.Get(r.Context(), teamID)
		if err != nil {
			slog.Warn("health cache read failed, falling back to store", "team_ref", teamID, "error", err)
		} else if entry != nil {
			writeJSON(w, http.StatusOK, entry)
			return
		}
	}

	team, err := rt.store.GetTeam(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"team_ref":    team.ID,
		"status":      team.HealthStatus,
		"risk_flags":  team.RiskFlags,
		"computed_at": team.HealthUpdatedAt,
	})
}

func (rt *Router) handleTeamSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := rt.store.ListSnapshotsByTeam(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var svcErr *core.Error
	if !errors.As(err, &svcErr) {
		svcErr = core.NewInternalError(err.Error())
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case core.ErrCodeInvalidRequest:
		status = http.StatusBadRequest
	case core.ErrCodeNotFound:
		status = http.StatusNotFound
	case core.ErrCodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": svcErr})
}
