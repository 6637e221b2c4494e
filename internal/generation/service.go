package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/studyforge/studyforge/internal/common"
	"github.com/studyforge/studyforge/internal/storage"
)

// Service is the submission side of the pipeline: it validates input,
// persists the job (and raw material), and hands off to the dispatcher
// without awaiting generation.
type Service struct {
	repo       *Repo
	store      storage.Store
	dispatcher Dispatcher
	log        zerolog.Logger
}

func NewService(repo *Repo, store storage.Store, dispatcher Dispatcher, log zerolog.Logger) *Service {
	return &Service{repo: repo, store: store, dispatcher: dispatcher, log: log}
}

// SubmitInput carries one validated submission. RawContent is the
// uploaded source material (transcript, textbook text); document jobs
// carry PromptText inline instead.
type SubmitInput struct {
	Kind        Kind
	UserID      uint64
	RawContent  []byte
	ContentType string
	PromptText  string
	Params      any
}

func (in *SubmitInput) validate() error {
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, in.Kind)
	}
	if in.UserID == 0 {
		return fmt.Errorf("%w: user required", ErrValidation)
	}
	switch in.Kind {
	case KindDocument:
		if strings.TrimSpace(in.PromptText) == "" {
			return fmt.Errorf("%w: prompt text required", ErrValidation)
		}
	case KindNote:
		if len(bytes.TrimSpace(in.RawContent)) == 0 {
			return fmt.Errorf("%w: transcript required", ErrValidation)
		}
	case KindTextbook:
		if len(bytes.TrimSpace(in.RawContent)) == 0 {
			return fmt.Errorf("%w: source material required", ErrValidation)
		}
	}
	return nil
}

// Submit persists a new pending job and dispatches it. The job id is
// returned as soon as the rows are committed; generation latency never
// delays the caller.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	var params []byte
	if in.Params != nil {
		b, err := json.Marshal(in.Params)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		params = b
	}

	jobID, err := common.NewULID()
	if err != nil {
		return "", err
	}

	core := &JobCore{
		ID:         jobID,
		UserID:     in.UserID,
		Status:     StatusPending,
		PromptText: in.PromptText,
		Params:     params,
	}

	// Raw material goes to the object store before the row exists, so
	// a storage failure leaves nothing behind to roll back.
	if len(in.RawContent) > 0 {
		ct := in.ContentType
		if ct == "" {
			ct = "text/plain; charset=utf-8"
		}
		key := fmt.Sprintf("inputs/%s/%d/%s", in.Kind, in.UserID, uuid.NewString())
		if err := s.store.Put(ctx, key, bytes.NewReader(in.RawContent), ct); err != nil {
			return "", fmt.Errorf("store raw input: %w", err)
		}
		core.InputKey = key
	}

	if err := s.repo.CreateJob(ctx, in.Kind, core); err != nil {
		// Orphaned input blobs are acceptable; the row is the source
		// of truth.
		s.cleanupBlobs(in.Kind, jobID, core.InputKey)
		return "", err
	}

	if err := s.dispatcher.Dispatch(ctx, in.Kind, jobID); err != nil {
		return "", fmt.Errorf("dispatch job: %w", err)
	}
	return jobID, nil
}

// Regenerate resets a job back to pending, reusing the same id and
// output key slot, and dispatches a fresh attempt. Params are replaced
// when given, kept otherwise. Works from the terminal states and from
// pending (a job whose enqueue failed after commit); only a processing
// job is refused.
func (s *Service) Regenerate(ctx context.Context, kind Kind, jobID string, userID uint64, newParams any) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}

	var params []byte
	if newParams != nil {
		b, err := json.Marshal(newParams)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		params = b
	}

	if err := s.repo.ResetForRegeneration(ctx, kind, jobID, userID, params); err != nil {
		return err
	}
	if err := s.dispatcher.Dispatch(ctx, kind, jobID); err != nil {
		return fmt.Errorf("dispatch job: %w", err)
	}
	return nil
}

// Status returns the owner-scoped job row for polling.
func (s *Service) Status(ctx context.Context, kind Kind, jobID string, userID uint64) (*JobCore, error) {
	return s.repo.GetJobForUser(ctx, kind, jobID, userID)
}

// Download streams the generated artifact for a completed job.
func (s *Service) Download(ctx context.Context, kind Kind, jobID string, userID uint64) (io.ReadCloser, error) {
	core, err := s.repo.GetJobForUser(ctx, kind, jobID, userID)
	if err != nil {
		return nil, err
	}
	if core.Status != StatusCompleted || core.OutputKey == nil {
		return nil, ErrNotReady
	}
	return s.store.Get(ctx, *core.OutputKey)
}

// Delete removes the job row, then cleans up its blobs fire-and-forget:
// a failed blob delete is logged and never fails the deletion itself.
func (s *Service) Delete(ctx context.Context, kind Kind, jobID string, userID uint64) error {
	core, err := s.repo.DeleteJob(ctx, kind, jobID, userID)
	if err != nil {
		return err
	}

	outputKey := ""
	if core.OutputKey != nil {
		outputKey = *core.OutputKey
	}
	s.cleanupBlobs(kind, jobID, core.InputKey, outputKey)
	return nil
}

// Activities lists the caller's usage ledger rows.
func (s *Service) Activities(ctx context.Context, userID uint64, limit int) ([]Activity, error) {
	return s.repo.ListActivities(ctx, userID, limit)
}

func (s *Service) cleanupBlobs(kind Kind, jobID string, keys ...string) {
	go func() {
		ctx := context.Background()
		for _, key := range keys {
			if key == "" {
				continue
			}
			if err := s.store.Delete(ctx, key); err != nil {
				s.log.Warn().Err(err).
					Str("kind", string(kind)).
					Str("job_id", jobID).
					Str("key", key).
					Msg("blob cleanup failed")
			}
		}
	}()
}
