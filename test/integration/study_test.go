package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyflow/studyflow/internal/domain/study"
	"github.com/studyflow/studyflow/internal/platform/directory"
)

func newStudyService(pool *pgxpool.Pool) (*study.Service, study.StudyRepository) {
	repo := study.NewStudyRepoPG(pool)
	return study.NewService(repo, directory.NewPGDirectory(pool)), repo
}

func ingestAssigned(t *testing.T, svc *study.Service, doctor uuid.UUID, lab *uuid.UUID) *study.Study {
	t.Helper()
	ctx := context.Background()
	st := &study.Study{
		StudyInstanceUID: "1.2.840." + uuid.NewString(),
		Modalities:       []string{"CT"},
		StudyDate:        "20240301",
		LabID:            lab,
	}
	if err := svc.Ingest(ctx, st, "it"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := svc.Transition(ctx, st.ID, study.StatusPendingAssignment, "it", ""); err != nil {
		t.Fatalf("pending: %v", err)
	}
	out, err := svc.Assign(ctx, st.ID, doctor, study.PriorityRoutine, "it")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return out
}

func TestStudyLifecycle(t *testing.T) {
	pool := newSchema(t)
	svc, _ := newStudyService(pool)
	ctx := context.Background()
	doc := insertDoctor(t, pool, "Dr. Mehta")

	st := ingestAssigned(t, svc, doc, nil)
	if _, err := svc.StartReport(ctx, st.ID, doc); err != nil {
		t.Fatalf("start report: %v", err)
	}
	done, err := svc.FinalizeReport(ctx, st.ID, doc, "Normal study.")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := svc.GetStudy(ctx, st.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != done.Version || got.WorkflowStatus != study.StatusReportFinalized {
		t.Errorf("stored study differs from returned one: %+v", got)
	}
	if len(got.StatusHistory) != 5 {
		t.Fatalf("expected 5 ledger entries, got %d", len(got.StatusHistory))
	}
	if err := got.Validate(); err != nil {
		t.Errorf("stored study violates invariants: %v", err)
	}
	if got.Timing.UploadToReport == nil || got.Timing.AssignToReport == nil {
		t.Errorf("expected stored TAT columns, got %+v", got.Timing)
	}
}

func TestDuplicateUID(t *testing.T) {
	pool := newSchema(t)
	svc, _ := newStudyService(pool)
	ctx := context.Background()

	uid := "1.2.840.dup"
	if err := svc.Ingest(ctx, &study.Study{StudyInstanceUID: uid}, "it"); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	err := svc.Ingest(ctx, &study.Study{StudyInstanceUID: uid}, "it")
	if !errors.Is(err, study.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

// Two writers holding the same snapshot race; exactly one CAS may land and
// the ledger must gain exactly one entry.
func TestCompareAndSwap_OneWriterWins(t *testing.T) {
	pool := newSchema(t)
	svc, repo := newStudyService(pool)
	ctx := context.Background()
	doc := insertDoctor(t, pool, "Dr. Shah")
	cur := ingestAssigned(t, svc, doc, nil)

	const writers = 4
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, writers)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := cur.Clone()
			next.Version = cur.Version + 1
			entry := study.StatusEntry{
				Seq:       len(cur.StatusHistory) + 1,
				Status:    study.StatusDoctorOpenedReport,
				ChangedAt: cur.UpdatedAt,
				ChangedBy: doc.String(),
			}
			next.WorkflowStatus = study.StatusDoctorOpenedReport
			next.StatusHistory = append(next.StatusHistory, entry)
			<-start
			errs[i] = repo.CompareAndSwap(ctx, next, study.GuardOf(cur), []study.StatusEntry{entry})
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, study.ErrConcurrentModification):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	history, err := repo.History(ctx, cur.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != len(cur.StatusHistory)+1 {
		t.Errorf("expected %d ledger entries, got %d", len(cur.StatusHistory)+1, len(history))
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	pool := newSchema(t)
	svc, _ := newStudyService(pool)
	ctx := context.Background()

	st := &study.Study{StudyInstanceUID: "1.2.840.ledger"}
	if err := svc.Ingest(ctx, st, "it"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE study_status_history SET note = 'x' WHERE study_id = $1`, st.ID); err == nil {
		t.Error("expected UPDATE on the ledger to be rejected")
	}
	if _, err := pool.Exec(ctx, `DELETE FROM study_status_history WHERE study_id = $1`, st.ID); err == nil {
		t.Error("expected DELETE on the ledger to be rejected")
	}
}
