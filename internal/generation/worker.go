package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/studyforge/studyforge/internal/ai"
	"github.com/studyforge/studyforge/internal/storage"
)

// SafetyMessage replaces raw provider errors when generation is
// refused by the content safety filter.
const SafetyMessage = "The submitted material was declined by the content safety filter. Please revise it and try again."

// Worker drives one job through the state machine:
// pending -> processing -> completed|failed. It is the only writer of
// status, output key and token counts after submission.
type Worker struct {
	repo     *Repo
	store    storage.Store
	provider ai.Provider
	opts     ai.Options
	log      zerolog.Logger
}

func NewWorker(repo *Repo, store storage.Store, provider ai.Provider, opts ai.Options, log zerolog.Logger) *Worker {
	return &Worker{repo: repo, store: store, provider: provider, opts: opts, log: log}
}

func (w *Worker) Process(ctx context.Context, kind Kind, jobID string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown job kind: %s", kind)
	}
	log := w.log.With().Str("kind", string(kind)).Str("job_id", jobID).Logger()
	start := time.Now()

	core, err := w.repo.GetJob(ctx, kind, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Integrity error: the submitter already got a 200, nobody
			// is waiting for this outcome.
			log.Error().Msg("dispatched job row not found")
			return nil
		}
		return err
	}

	acquired, err := w.repo.AcquireProcessing(ctx, kind, jobID)
	if err != nil {
		return err
	}
	if !acquired {
		log.Warn().Str("status", string(core.Status)).Msg("job not pending, skipping")
		return nil
	}

	// From here every failure becomes a terminal FAILED write.
	input, err := w.loadInput(ctx, core)
	if err != nil {
		return w.fail(ctx, kind, jobID, fmt.Errorf("load input: %w", err))
	}

	prompt, err := buildPrompt(kind, core.Params, input)
	if err != nil {
		return w.fail(ctx, kind, jobID, err)
	}

	// The long-lived provider call runs with no transaction open.
	result, err := w.provider.Generate(ctx, prompt, w.opts)
	if err != nil {
		return w.fail(ctx, kind, jobID, err)
	}

	// Output is fully buffered in result.Text; it is written exactly
	// once per attempt, and only now that generation has succeeded.
	// Regeneration overwrites the object at the existing key so
	// callers holding the old path see the new content.
	outputKey := fmt.Sprintf("outputs/%s/%d/%s.md", kind, core.UserID, core.ID)
	if core.OutputKey != nil {
		outputKey = *core.OutputKey
	}
	if err := w.store.Put(ctx, outputKey, strings.NewReader(result.Text), "text/markdown; charset=utf-8"); err != nil {
		return w.fail(ctx, kind, jobID, fmt.Errorf("store output: %w", err))
	}

	tokensSent, tokensReceived := w.tokenCounts(kind, core, input, result)

	if err := w.repo.CompleteJob(ctx, kind, jobID, outputKey, tokensSent, tokensReceived); err != nil {
		return w.fail(ctx, kind, jobID, fmt.Errorf("commit completion: %w", err))
	}

	log.Info().
		Dur("took", time.Since(start)).
		Int("tokens_sent", tokensSent).
		Int("tokens_received", tokensReceived).
		Msg("job completed")
	return nil
}

func (w *Worker) loadInput(ctx context.Context, core *JobCore) (string, error) {
	if core.InputKey == "" {
		return core.PromptText, nil
	}
	rc, err := w.store.Get(ctx, core.InputKey)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *Worker) tokenCounts(kind Kind, core *JobCore, input string, result *ai.Result) (sent, received int) {
	if result.Usage != nil {
		return result.Usage.PromptTokens, result.Usage.OutputTokens
	}
	sent = EstimateInputTokens(pageCount(kind, core.Params), len(input))
	received = EstimateOutputTokens(len(result.Text))
	return sent, received
}

// fail records the terminal failure state best-effort: if even that
// write fails there is nothing left to do but log.
func (w *Worker) fail(ctx context.Context, kind Kind, jobID string, cause error) error {
	msg := cause.Error()
	if errors.Is(cause, ai.ErrContentBlocked) {
		msg = SafetyMessage
	}
	if err := w.repo.FailJob(ctx, kind, jobID, msg); err != nil {
		w.log.Error().Err(err).
			Str("kind", string(kind)).
			Str("job_id", jobID).
			Msg("could not record job failure")
	}
	return cause
}
