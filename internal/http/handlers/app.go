package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/pipeline"
	"orchestrator/internal/version"
)

// Pipeline is the slice of the job state machine the API needs.
type Pipeline interface {
	Submit(ctx context.Context, ownerID string, spec domain.JobSpec) (*domain.Job, error)
	Status(ctx context.Context, jobID string) (*pipeline.StatusView, error)
	RequestCancel(ctx context.Context, jobID string) (*pipeline.StatusView, error)
}

// Versions is the slice of the iteration/version manager the API needs.
type Versions interface {
	GetGroup(ctx context.Context, groupID string) (*version.Snapshot, error)
	Regenerate(ctx context.Context, groupID string, spec domain.RegenerateSpec) (*domain.Iteration, error)
	SetFinal(ctx context.Context, groupID, attemptID string) error
}

// App bundles the handler dependencies.
type App struct {
	Pipeline Pipeline
	Versions Versions
	Logger   infra.Logger
}

func NewApp(p Pipeline, v Versions, logger infra.Logger) *App {
	return &App{Pipeline: p, Versions: v, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
