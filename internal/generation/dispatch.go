package generation

import (
	"context"

	"github.com/rs/zerolog"
)

// Dispatcher hands a persisted job to the background worker without
// waiting for it to finish. The fire-and-forget guarantee lives here
// explicitly instead of leaning on any host runtime behavior: the
// queue-backed implementation survives the process, the local one is
// for single-binary deployments and tests.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind Kind, jobID string) error
}

// Runner processes one dispatched job. Implemented by *Worker.
type Runner interface {
	Process(ctx context.Context, kind Kind, jobID string) error
}

// LocalDispatcher runs the worker in-process on a fresh goroutine.
type LocalDispatcher struct {
	runner Runner
	log    zerolog.Logger
}

func NewLocalDispatcher(runner Runner, log zerolog.Logger) *LocalDispatcher {
	return &LocalDispatcher{runner: runner, log: log}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, kind Kind, jobID string) error {
	// Detached from the request context: the job outlives the HTTP
	// response.
	go func() {
		if err := d.runner.Process(context.Background(), kind, jobID); err != nil {
			d.log.Error().Err(err).
				Str("kind", string(kind)).
				Str("job_id", jobID).
				Msg("background job failed")
		}
	}()
	return nil
}
