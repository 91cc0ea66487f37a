package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type pingFunc func(ctx context.Context) error

type HealthHandler struct {
	pgPing    pingFunc
	redisPing pingFunc
	env       string
	version   string
}

// NewHealthHandler builds the probes. rdb may be nil when the engine runs
// without the Redis lock; readiness then reports it as disabled.
func NewHealthHandler(pgPool *pgxpool.Pool, rdb *redis.Client, env, version string) *HealthHandler {
	h := &HealthHandler{env: env, version: version}
	if pgPool != nil {
		h.pgPing = pgPool.Ping
	}
	if rdb != nil {
		h.redisPing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness fails when Postgres is down. Redis is optional: a server started
// without it reports "disabled" and books on the unique index alone, while a
// Redis outage after startup reports "degraded" and bookings fail fast with
// store_unavailable until it returns.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	if ping(ctx, h.pgPing) != nil {
		deps["postgres"] = "down"
		status = "error"
	} else {
		deps["postgres"] = "ok"
	}

	switch {
	case h.redisPing == nil:
		deps["redis"] = "disabled"
	case ping(ctx, h.redisPing) != nil:
		deps["redis"] = "down"
		if status == "ok" {
			status = "degraded"
		}
	default:
		deps["redis"] = "ok"
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}

func ping(ctx context.Context, fn pingFunc) error {
	if fn == nil {
		return errNoProbe
	}
	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return fn(pctx)
}
