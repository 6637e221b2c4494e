package generation

import (
	"context"
	"errors"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestJob(id string, userID uint64) *JobCore {
	return &JobCore{
		ID:       id,
		UserID:   userID,
		Status:   StatusPending,
		InputKey: "inputs/note/1/raw.txt",
		Params:   []byte(`{"detect_headings":true}`),
	}
}

func TestCreateJob_WithActivity(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	if err := repo.CreateJob(ctx, KindNote, newTestJob("01JOB0000000000000000000001", 1)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	act, err := repo.GetActivity(ctx, KindNote, "01JOB0000000000000000000001")
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if act.Status != StatusPending {
		t.Fatalf("activity status = %s, want pending", act.Status)
	}
	if act.TokensSent != 0 || act.TokensReceived != 0 {
		t.Fatalf("fresh activity has token counts %d/%d", act.TokensSent, act.TokensReceived)
	}
}

func TestCreateJob_DocumentHasNoActivity(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	if err := repo.CreateJob(ctx, KindDocument, newTestJob("01JOB0000000000000000000002", 1)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if _, err := repo.GetActivity(ctx, KindDocument, "01JOB0000000000000000000002"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected no activity row, got err=%v", err)
	}
}

func TestCreateJob_ActivityFailureRollsBackJob(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	// Occupy the unique (job_kind, job_id) slot so the activity insert
	// inside CreateJob fails after the job insert.
	if err := db.Create(&Activity{
		JobKind: KindNote,
		JobID:   "01JOB0000000000000000000003",
		UserID:  1,
		Status:  StatusPending,
	}).Error; err != nil {
		t.Fatalf("seed activity: %v", err)
	}

	if err := repo.CreateJob(ctx, KindNote, newTestJob("01JOB0000000000000000000003", 1)); err == nil {
		t.Fatal("expected create to fail")
	}

	if _, err := repo.GetJob(ctx, KindNote, "01JOB0000000000000000000003"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("job row survived the rollback, err=%v", err)
	}
}

func TestAcquireProcessing_GatesOnPending(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id := "01JOB0000000000000000000004"
	if err := repo.CreateJob(ctx, KindNote, newTestJob(id, 1)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	acquired, err := repo.AcquireProcessing(ctx, KindNote, id)
	if err != nil || !acquired {
		t.Fatalf("first acquire = (%v, %v), want (true, nil)", acquired, err)
	}

	core, _ := repo.GetJob(ctx, KindNote, id)
	if core.Status != StatusProcessing {
		t.Fatalf("status = %s, want processing", core.Status)
	}
	act, _ := repo.GetActivity(ctx, KindNote, id)
	if act.Status != StatusProcessing {
		t.Fatalf("activity status = %s, want processing", act.Status)
	}

	acquired, err = repo.AcquireProcessing(ctx, KindNote, id)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if acquired {
		t.Fatal("acquired an already-processing job")
	}
}

func TestCompleteJob_AtomicWithActivityTokens(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id := "01JOB0000000000000000000005"
	if err := repo.CreateJob(ctx, KindTextbook, newTestJob(id, 2)); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := repo.AcquireProcessing(ctx, KindTextbook, id); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := repo.CompleteJob(ctx, KindTextbook, id, "outputs/textbook/2/"+id+".md", 120, 45); err != nil {
		t.Fatalf("complete: %v", err)
	}

	core, _ := repo.GetJob(ctx, KindTextbook, id)
	if core.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", core.Status)
	}
	if core.OutputKey == nil || *core.OutputKey == "" {
		t.Fatal("completed job has no output key")
	}
	if core.Error != nil {
		t.Fatalf("completed job carries error %q", *core.Error)
	}

	act, _ := repo.GetActivity(ctx, KindTextbook, id)
	if act.Status != StatusCompleted || act.TokensSent != 120 || act.TokensReceived != 45 {
		t.Fatalf("activity = %s %d/%d, want completed 120/45", act.Status, act.TokensSent, act.TokensReceived)
	}
}

func TestCompleteJob_RequiresProcessing(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id := "01JOB0000000000000000000006"
	if err := repo.CreateJob(ctx, KindNote, newTestJob(id, 1)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	// still pending: the commit must refuse to skip processing
	if err := repo.CompleteJob(ctx, KindNote, id, "outputs/x", 1, 1); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("complete on pending job: err=%v, want record not found", err)
	}
}

func TestFailJob(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id := "01JOB0000000000000000000007"
	if err := repo.CreateJob(ctx, KindNote, newTestJob(id, 1)); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := repo.AcquireProcessing(ctx, KindNote, id); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := repo.FailJob(ctx, KindNote, id, "provider exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	core, _ := repo.GetJob(ctx, KindNote, id)
	if core.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", core.Status)
	}
	if core.Error == nil || *core.Error != "provider exploded" {
		t.Fatalf("error = %v", core.Error)
	}
	act, _ := repo.GetActivity(ctx, KindNote, id)
	if act.Status != StatusFailed {
		t.Fatalf("activity status = %s, want failed", act.Status)
	}
}

func TestResetForRegeneration(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id := "01JOB0000000000000000000008"
	if err := repo.CreateJob(ctx, KindNote, newTestJob(id, 3)); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := repo.AcquireProcessing(ctx, KindNote, id); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// refused while processing
	if err := repo.ResetForRegeneration(ctx, KindNote, id, 3, nil); !errors.Is(err, ErrJobBusy) {
		t.Fatalf("reset while processing: err=%v, want ErrJobBusy", err)
	}

	if err := repo.FailJob(ctx, KindNote, id, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	newParams := []byte(`{"detect_headings":false,"include_summary":true}`)
	if err := repo.ResetForRegeneration(ctx, KindNote, id, 3, newParams); err != nil {
		t.Fatalf("reset: %v", err)
	}

	core, _ := repo.GetJob(ctx, KindNote, id)
	if core.Status != StatusPending {
		t.Fatalf("status = %s, want pending", core.Status)
	}
	if core.Error != nil {
		t.Fatalf("error not cleared: %q", *core.Error)
	}
	if core.RegeneratedAt == nil {
		t.Fatal("regenerated_at not stamped")
	}
	if string(core.Params) != string(newParams) {
		t.Fatalf("params = %s", core.Params)
	}

	act, _ := repo.GetActivity(ctx, KindNote, id)
	if act.Status != StatusPending || act.TokensSent != 0 || act.TokensReceived != 0 {
		t.Fatalf("activity not reset: %s %d/%d", act.Status, act.TokensSent, act.TokensReceived)
	}
}

func TestResetForRegeneration_PendingJobAllowed(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	// A job can sit pending forever when the enqueue after commit
	// failed; regeneration is the recovery path and must not be
	// refused as busy.
	id := "01JOB0000000000000000000014"
	if err := repo.CreateJob(ctx, KindNote, newTestJob(id, 3)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := repo.ResetForRegeneration(ctx, KindNote, id, 3, nil); err != nil {
		t.Fatalf("reset pending job: %v", err)
	}

	core, _ := repo.GetJob(ctx, KindNote, id)
	if core.Status != StatusPending {
		t.Fatalf("status = %s, want pending", core.Status)
	}
	if core.RegeneratedAt == nil {
		t.Fatal("regenerated_at not stamped")
	}
}

func TestResetForRegeneration_ScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id := "01JOB0000000000000000000009"
	if err := repo.CreateJob(ctx, KindNote, newTestJob(id, 3)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := repo.ResetForRegeneration(ctx, KindNote, id, 99, nil); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign reset: err=%v, want record not found", err)
	}
}

func TestGetJobForUser_OwnershipIsolation(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id := "01JOB0000000000000000000010"
	if err := repo.CreateJob(ctx, KindDocument, newTestJob(id, 7)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if _, err := repo.GetJobForUser(ctx, KindDocument, id, 7); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := repo.GetJobForUser(ctx, KindDocument, id, 8); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign read: err=%v, want record not found", err)
	}
}

func TestDeleteJob_RemovesActivity(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id := "01JOB0000000000000000000011"
	if err := repo.CreateJob(ctx, KindTextbook, newTestJob(id, 4)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	core, err := repo.DeleteJob(ctx, KindTextbook, id, 4)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if core.InputKey == "" {
		t.Fatal("deleted core lost its input key")
	}

	if _, err := repo.GetJob(ctx, KindTextbook, id); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("job row still present, err=%v", err)
	}
	if _, err := repo.GetActivity(ctx, KindTextbook, id); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("activity row still present, err=%v", err)
	}
}

func TestListActivities_ScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	a := newTestJob("01JOB0000000000000000000012", 10)
	b := newTestJob("01JOB0000000000000000000013", 11)
	if err := repo.CreateJob(ctx, KindNote, a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := repo.CreateJob(ctx, KindNote, b); err != nil {
		t.Fatalf("create b: %v", err)
	}

	acts, err := repo.ListActivities(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(acts) != 1 || acts[0].JobID != a.ID {
		t.Fatalf("unexpected activities: %+v", acts)
	}
}
