package generation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type dispatchedJob struct {
	Kind  Kind
	JobID string
}

// fakeDispatcher records every handoff instead of enqueuing it.
type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []dispatchedJob
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, kind Kind, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, dispatchedJob{Kind: kind, JobID: jobID})
	return nil
}

func (f *fakeDispatcher) dispatched() []dispatchedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchedJob(nil), f.jobs...)
}

var _ Dispatcher = (*fakeDispatcher)(nil)

func newTestService(t *testing.T) (*Service, *Repo, *fakeStore, *fakeDispatcher) {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	store := newFakeStore()
	disp := &fakeDispatcher{}
	return NewService(repo, store, disp, zerolog.Nop()), repo, store, disp
}

func TestSubmit_NoteHappyPath(t *testing.T) {
	svc, repo, store, disp := newTestService(t)
	ctx := context.Background()

	jobID, err := svc.Submit(ctx, SubmitInput{
		Kind:       KindNote,
		UserID:     1,
		RawContent: []byte("raw transcript"),
		Params:     NoteParams{DetectHeadings: true},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(jobID) != 26 {
		t.Fatalf("job id %q is not a ulid", jobID)
	}

	core, err := repo.GetJob(ctx, KindNote, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if core.Status != StatusPending {
		t.Fatalf("status = %s, want pending", core.Status)
	}
	if core.InputKey == "" {
		t.Fatal("raw content not stored")
	}
	if data, ok := store.object(core.InputKey); !ok || string(data) != "raw transcript" {
		t.Fatalf("input blob = %q, ok=%v", data, ok)
	}

	act, err := repo.GetActivity(ctx, KindNote, jobID)
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if act.Status != StatusPending {
		t.Fatalf("activity status = %s", act.Status)
	}

	jobs := disp.dispatched()
	if len(jobs) != 1 || jobs[0].Kind != KindNote || jobs[0].JobID != jobID {
		t.Fatalf("dispatched = %+v", jobs)
	}
}

func TestSubmit_DocumentSkipsObjectStore(t *testing.T) {
	svc, repo, store, _ := newTestService(t)
	ctx := context.Background()

	jobID, err := svc.Submit(ctx, SubmitInput{
		Kind:       KindDocument,
		UserID:     2,
		PromptText: "Write about photosynthesis.",
		Params:     DocumentParams{Topic: "photosynthesis"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	core, _ := repo.GetJob(ctx, KindDocument, jobID)
	if core.InputKey != "" {
		t.Fatalf("document job stored an input blob at %s", core.InputKey)
	}
	if store.count() != 0 {
		t.Fatalf("store holds %d objects, want 0", store.count())
	}
	if _, err := repo.GetActivity(ctx, KindDocument, jobID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("document job has an activity row, err=%v", err)
	}
}

func TestSubmit_ValidationPersistsNothing(t *testing.T) {
	svc, _, store, disp := newTestService(t)
	ctx := context.Background()

	cases := []SubmitInput{
		{Kind: "poem", UserID: 1, RawContent: []byte("x")},
		{Kind: KindNote, UserID: 0, RawContent: []byte("x")},
		{Kind: KindNote, UserID: 1, RawContent: []byte("   ")},
		{Kind: KindTextbook, UserID: 1},
		{Kind: KindDocument, UserID: 1, PromptText: " "},
	}
	for _, in := range cases {
		if _, err := svc.Submit(ctx, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("submit(%+v): err=%v, want ErrValidation", in, err)
		}
	}
	if store.count() != 0 {
		t.Fatal("rejected submission wrote to the store")
	}
	if len(disp.dispatched()) != 0 {
		t.Fatal("rejected submission was dispatched")
	}
}

func TestSubmit_DispatchFailureSurfacesButRowStays(t *testing.T) {
	svc, repo, _, disp := newTestService(t)
	disp.err = errors.New("broker down")
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitInput{
		Kind:       KindNote,
		UserID:     1,
		RawContent: []byte("transcript"),
	})
	if err == nil {
		t.Fatal("expected submit to fail")
	}

	// the committed row stays pending for later re-dispatch
	acts, listErr := repo.ListActivities(ctx, 1, 10)
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(acts) != 1 || acts[0].Status != StatusPending {
		t.Fatalf("activities = %+v", acts)
	}
}

func TestRegenerate_DispatchesAgain(t *testing.T) {
	svc, repo, _, disp := newTestService(t)
	ctx := context.Background()

	jobID, err := svc.Submit(ctx, SubmitInput{Kind: KindNote, UserID: 1, RawContent: []byte("t")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := repo.AcquireProcessing(ctx, KindNote, jobID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := repo.FailJob(ctx, KindNote, jobID, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := svc.Regenerate(ctx, KindNote, jobID, 1, NoteParams{IncludeSummary: true}); err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	if jobs := disp.dispatched(); len(jobs) != 2 || jobs[1].JobID != jobID {
		t.Fatalf("dispatched = %+v", jobs)
	}
	core, _ := repo.GetJob(ctx, KindNote, jobID)
	if core.Status != StatusPending || core.RegeneratedAt == nil {
		t.Fatalf("core = %+v", core)
	}
}

func TestRegenerate_RecoversJobStuckAfterEnqueueFailure(t *testing.T) {
	svc, repo, _, disp := newTestService(t)
	ctx := context.Background()

	disp.err = errors.New("broker down")
	_, err := svc.Submit(ctx, SubmitInput{Kind: KindNote, UserID: 1, RawContent: []byte("t")})
	if err == nil {
		t.Fatal("expected submit to fail")
	}

	acts, err := repo.ListActivities(ctx, 1, 10)
	if err != nil || len(acts) != 1 {
		t.Fatalf("activities = %+v, err=%v", acts, err)
	}
	jobID := acts[0].JobID

	// broker recovers; the pending row must be re-dispatchable
	disp.err = nil
	if err := svc.Regenerate(ctx, KindNote, jobID, 1, nil); err != nil {
		t.Fatalf("regenerate stuck job: %v", err)
	}

	if jobs := disp.dispatched(); len(jobs) != 1 || jobs[0].JobID != jobID {
		t.Fatalf("dispatched = %+v", jobs)
	}
	core, _ := repo.GetJob(ctx, KindNote, jobID)
	if core.Status != StatusPending {
		t.Fatalf("status = %s, want pending", core.Status)
	}
}

func TestRegenerate_BusyJobRefused(t *testing.T) {
	svc, repo, _, disp := newTestService(t)
	ctx := context.Background()

	jobID, err := svc.Submit(ctx, SubmitInput{Kind: KindNote, UserID: 1, RawContent: []byte("t")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := repo.AcquireProcessing(ctx, KindNote, jobID); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := svc.Regenerate(ctx, KindNote, jobID, 1, nil); !errors.Is(err, ErrJobBusy) {
		t.Fatalf("regenerate err = %v, want ErrJobBusy", err)
	}
	if jobs := disp.dispatched(); len(jobs) != 1 {
		t.Fatalf("busy regeneration was dispatched: %+v", jobs)
	}
}

func TestDownload_GatedOnCompletion(t *testing.T) {
	svc, repo, store, _ := newTestService(t)
	ctx := context.Background()

	jobID, err := svc.Submit(ctx, SubmitInput{Kind: KindNote, UserID: 1, RawContent: []byte("t")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.Download(ctx, KindNote, jobID, 1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("download pending: err=%v, want ErrNotReady", err)
	}

	if _, err := repo.AcquireProcessing(ctx, KindNote, jobID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	outKey := "outputs/note/1/" + jobID + ".md"
	if err := store.Put(ctx, outKey, strings.NewReader("# notes"), "text/markdown"); err != nil {
		t.Fatalf("seed output: %v", err)
	}
	if err := repo.CompleteJob(ctx, KindNote, jobID, outKey, 10, 5); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rc, err := svc.Download(ctx, KindNote, jobID, 1)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "# notes" {
		t.Fatalf("downloaded %q", data)
	}

	// foreign caller sees not found, not not-ready
	if _, err := svc.Download(ctx, KindNote, jobID, 2); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign download: err=%v", err)
	}
}

func TestDelete_RemovesRowAndBlobs(t *testing.T) {
	svc, repo, store, _ := newTestService(t)
	ctx := context.Background()

	jobID, err := svc.Submit(ctx, SubmitInput{Kind: KindNote, UserID: 1, RawContent: []byte("t")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := svc.Delete(ctx, KindNote, jobID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := repo.GetJob(ctx, KindNote, jobID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("row still present, err=%v", err)
	}

	// blob cleanup is asynchronous
	deadline := time.Now().Add(2 * time.Second)
	for store.count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("blobs not cleaned up, %d left", store.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
