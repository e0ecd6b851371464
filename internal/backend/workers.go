package backend

import (
	"context"

	"github.com/harmonia-ai/muse/pkg/metrics"
)

// runner abstracts the two protocol clients behind one job call.
type runner interface {
	Run(ctx context.Context, job Job) (string, error)
}

// size is an explicit width/height pair.
type size struct {
	Width  int
	Height int
}

// worker binds one remote generation capability to its protocol client and
// its fixed job-stage configuration.
type worker struct {
	name      string
	kind      string
	fnIndex   int
	triggerID int
	run       runner

	// buildArgs assembles the ordered argument vector the worker expects
	// from the prompt, a single-use random correlation digit and the
	// resolved size parameters.
	buildArgs func(prompt string, digit int, params Params) []any
}

func (w *worker) Name() string { return w.name }
func (w *worker) Kind() string { return w.kind }

func (w *worker) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	job := Job{
		Backend:   w.name,
		Data:      w.buildArgs(prompt, correlationDigit(), params),
		FnIndex:   w.fnIndex,
		TriggerID: w.triggerID,
	}
	location, err := w.run.Run(ctx, job)
	if err != nil {
		metrics.BackendErrors.WithLabelValues(w.name, Class(err)).Inc()
		return "", err
	}
	return location, nil
}
