package generation

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Repo persists jobs and their activity ledger rows. All three kinds
// share JobCore columns, so the repo addresses the per-kind tables by
// name and runs one set of transition queries.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// isTransient matches database timeouts and dropped connections, the
// only failures worth an immediate local retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "invalid connection")
}

// withRetry runs fn, retrying exactly once, immediately, on a
// transient infra error. No backoff; the second failure surfaces.
func withRetry(fn func() error) error {
	err := fn()
	if isTransient(err) {
		err = fn()
	}
	return err
}

// CreateJob inserts the job row and, for kinds with an activity
// ledger, the paired activity row in the same transaction. If either
// insert fails nothing is persisted.
func (r *Repo) CreateJob(ctx context.Context, kind Kind, core *JobCore) error {
	return withRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Table(kind.table()).Create(core).Error; err != nil {
				return err
			}
			if !kind.HasActivity() {
				return nil
			}
			return tx.Create(&Activity{
				JobKind: kind,
				JobID:   core.ID,
				UserID:  core.UserID,
				Status:  core.Status,
			}).Error
		})
	})
}

// GetJob fetches a job row without ownership scoping. Worker use only.
func (r *Repo) GetJob(ctx context.Context, kind Kind, id string) (*JobCore, error) {
	var core JobCore
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Table(kind.table()).
			Where("id = ?", id).
			Take(&core).Error
	})
	if err != nil {
		return nil, err
	}
	return &core, nil
}

// GetJobForUser fetches a job scoped by owner. A foreign job is
// indistinguishable from a missing one.
func (r *Repo) GetJobForUser(ctx context.Context, kind Kind, id string, userID uint64) (*JobCore, error) {
	var core JobCore
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Table(kind.table()).
			Where("id = ? AND user_id = ?", id, userID).
			Take(&core).Error
	})
	if err != nil {
		return nil, err
	}
	return &core, nil
}

// AcquireProcessing gates the pending->processing transition on the
// current status, so at most one worker ever owns a job attempt.
// Returns false when the job was not pending.
func (r *Repo) AcquireProcessing(ctx context.Context, kind Kind, id string) (bool, error) {
	acquired := false
	err := withRetry(func() error {
		acquired = false
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Table(kind.table()).
				Where("id = ? AND status = ?", id, StatusPending).
				Updates(map[string]any{
					"status":     StatusProcessing,
					"updated_at": time.Now(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			acquired = true
			if !kind.HasActivity() {
				return nil
			}
			return tx.Model(&Activity{}).
				Where("job_kind = ? AND job_id = ?", kind, id).
				Update("status", StatusProcessing).Error
		})
	})
	return acquired, err
}

// CompleteJob commits the terminal success state: status, the output
// key (a no-op overwrite on regeneration), and the activity token
// counts move in one transaction, so completed is never observable
// with a missing output pointer.
func (r *Repo) CompleteJob(ctx context.Context, kind Kind, id string, outputKey string, tokensSent, tokensReceived int) error {
	return withRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Table(kind.table()).
				Where("id = ? AND status = ?", id, StatusProcessing).
				Updates(map[string]any{
					"status":     StatusCompleted,
					"output_key": outputKey,
					"error":      nil,
					"updated_at": time.Now(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			if !kind.HasActivity() {
				return nil
			}
			return tx.Model(&Activity{}).
				Where("job_kind = ? AND job_id = ?", kind, id).
				Updates(map[string]any{
					"status":          StatusCompleted,
					"tokens_sent":     tokensSent,
					"tokens_received": tokensReceived,
				}).Error
		})
	})
}

// FailJob writes the terminal failure state on job and activity.
func (r *Repo) FailJob(ctx context.Context, kind Kind, id string, msg string) error {
	return withRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Table(kind.table()).
				Where("id = ?", id).
				Updates(map[string]any{
					"status":     StatusFailed,
					"error":      msg,
					"updated_at": time.Now(),
				}).Error; err != nil {
				return err
			}
			if !kind.HasActivity() {
				return nil
			}
			return tx.Model(&Activity{}).
				Where("job_kind = ? AND job_id = ?", kind, id).
				Update("status", StatusFailed).Error
		})
	})
}

// ResetForRegeneration moves a job back to pending in place: same id,
// same output key slot, error cleared, params replaced when provided.
// Only a processing job is refused with ErrJobBusy, so a second worker
// can never race the live attempt. A job still pending is resettable:
// that is the recovery path when the enqueue after commit failed, and a
// duplicate delivery is harmless because the pending->processing
// transition is status-gated.
func (r *Repo) ResetForRegeneration(ctx context.Context, kind Kind, id string, userID uint64, params []byte) error {
	return withRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now()
			updates := map[string]any{
				"status":         StatusPending,
				"error":          nil,
				"regenerated_at": now,
				"updated_at":     now,
			}
			if params != nil {
				updates["params"] = params
			}
			res := tx.Table(kind.table()).
				Where("id = ? AND user_id = ? AND status <> ?", id, userID, StatusProcessing).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var n int64
				if err := tx.Table(kind.table()).
					Where("id = ? AND user_id = ?", id, userID).
					Count(&n).Error; err != nil {
					return err
				}
				if n == 0 {
					return gorm.ErrRecordNotFound
				}
				return ErrJobBusy
			}
			if !kind.HasActivity() {
				return nil
			}
			return tx.Model(&Activity{}).
				Where("job_kind = ? AND job_id = ?", kind, id).
				Updates(map[string]any{
					"status":          StatusPending,
					"tokens_sent":     0,
					"tokens_received": 0,
				}).Error
		})
	})
}

// DeleteJob removes the job row (and its activity row) scoped by
// owner, returning the deleted core so the caller can clean up blobs.
func (r *Repo) DeleteJob(ctx context.Context, kind Kind, id string, userID uint64) (*JobCore, error) {
	var core JobCore
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Table(kind.table()).
				Where("id = ? AND user_id = ?", id, userID).
				Take(&core).Error; err != nil {
				return err
			}
			if err := tx.Table(kind.table()).
				Where("id = ?", id).
				Delete(&JobCore{}).Error; err != nil {
				return err
			}
			if !kind.HasActivity() {
				return nil
			}
			return tx.Where("job_kind = ? AND job_id = ?", kind, id).
				Delete(&Activity{}).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return &core, nil
}

// ListActivities returns the caller's activity rows, newest first.
func (r *Repo) ListActivities(ctx context.Context, userID uint64, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var acts []Activity
	err := withRetry(func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("id DESC").
			Limit(limit).
			Find(&acts).Error
	})
	if err != nil {
		return nil, err
	}
	return acts, nil
}

// GetActivity fetches the ledger row paired with one job.
func (r *Repo) GetActivity(ctx context.Context, kind Kind, jobID string) (*Activity, error) {
	var act Activity
	err := withRetry(func() error {
		return r.db.WithContext(ctx).
			Where("job_kind = ? AND job_id = ?", kind, jobID).
			Take(&act).Error
	})
	if err != nil {
		return nil, err
	}
	return &act, nil
}
