package generation

import "errors"

var (
	// ErrValidation rejects a submission before anything is persisted.
	ErrValidation = errors.New("generation: invalid submission")

	// ErrJobBusy rejects regeneration while an attempt is in flight,
	// so two workers can never race on one output key.
	ErrJobBusy = errors.New("generation: job is still being processed")

	// ErrNotReady means the artifact was requested before the job
	// completed.
	ErrNotReady = errors.New("generation: output not available yet")
)
