package study

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/studyflow/studyflow/internal/platform/directory"
)

// Directory is the subset of reference lookups the workflow needs.
type Directory interface {
	Doctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	Lab(ctx context.Context, id uuid.UUID) (*directory.Lab, error)
	Patient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
}

type Service struct {
	studies StudyRepository
	dir     Directory
	now     func() time.Time
}

func NewService(studies StudyRepository, dir Directory) *Service {
	return &Service{studies: studies, dir: dir, now: time.Now}
}

// SetClock replaces the server clock used to stamp ledger entries.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Ingest registers a newly received study. Clinical metadata is taken from
// st; workflow fields are reset and the ledger is seeded.
func (s *Service) Ingest(ctx context.Context, st *Study, actor string) error {
	st.StudyInstanceUID = strings.TrimSpace(st.StudyInstanceUID)
	if st.StudyInstanceUID == "" {
		return fmt.Errorf("%w: study_instance_uid is required", ErrInvalidInput)
	}
	if st.StudyDate != "" {
		if _, err := ParseStudyDate(st.StudyDate); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if st.SeriesCount < 0 || st.ImageCount < 0 {
		return fmt.Errorf("%w: series and image counts must not be negative", ErrInvalidInput)
	}
	if err := checkWidths(st); err != nil {
		return err
	}
	if st.LabID != nil {
		if _, err := s.dir.Lab(ctx, *st.LabID); err != nil {
			return lookupErr("lab", *st.LabID, err)
		}
	}
	if st.PatientID != nil {
		if _, err := s.dir.Patient(ctx, *st.PatientID); err != nil {
			return lookupErr("patient", *st.PatientID, err)
		}
	}
	if st.Modalities == nil {
		st.Modalities = []string{}
	}

	seed(st, actor, s.now())
	if err := st.Validate(); err != nil {
		return err
	}
	return s.studies.Create(ctx, st)
}

func (s *Service) GetStudy(ctx context.Context, id uuid.UUID) (*Study, error) {
	return s.studies.GetByID(ctx, id)
}

func (s *Service) GetStudyByUID(ctx context.Context, uid string) (*Study, error) {
	return s.studies.GetByUID(ctx, uid)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]StatusEntry, error) {
	return s.studies.History(ctx, id)
}

// TAT returns the turnaround metrics of a study, computed from its current
// timestamps rather than the stored timing columns.
func (s *Service) TAT(ctx context.Context, id uuid.UUID) (TAT, error) {
	st, err := s.studies.GetByID(ctx, id)
	if err != nil {
		return TAT{}, err
	}
	return ComputeTAT(st), nil
}

// ownedByAssignment lists the statuses that only the assignment operations
// may enter, since they carry side effects on Assignment or ReportInfo.
var ownedByAssignment = map[Status]string{
	StatusAssignedToDoctor: "use assign",
	StatusReportInProgress: "use start report",
	StatusReportFinalized:  "use finalize report",
}

// Transition moves a study to target on behalf of actor.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actor, note string) (*Study, error) {
	const op = "transition"
	if !target.Valid() {
		return nil, fmt.Errorf("%s study %s: %w: %q", op, id, ErrUnknownStatus, target)
	}
	return s.mutate(ctx, id, op, func(next *Study) (bool, error) {
		if hint, ok := ownedByAssignment[target]; ok && next.WorkflowStatus.CanTransition(target) {
			return false, &TransitionError{StudyID: id, Op: op, From: next.WorkflowStatus, To: target, Reason: hint}
		}
		return true, apply(next, op, target, actor, note, s.now())
	})
}

// Assign binds the study to doctorID, replacing any current assignment.
// Naming the current holder again only updates the priority.
func (s *Service) Assign(ctx context.Context, id, doctorID uuid.UUID, priority Priority, actor string) (*Study, error) {
	if !validPriorities[priority] {
		return nil, fmt.Errorf("%w: invalid priority: %s", ErrInvalidInput, priority)
	}
	doc, err := s.dir.Doctor(ctx, doctorID)
	if err != nil {
		return nil, lookupErr("doctor", doctorID, err)
	}
	if !doc.Active {
		return nil, fmt.Errorf("%w: doctor %s is inactive", ErrInvalidInput, doctorID)
	}
	return s.mutate(ctx, id, "assign", func(next *Study) (bool, error) {
		return bind(next, doctorID, priority, actor, s.now())
	})
}

// StartReport moves an assigned study into report_in_progress for its
// assignee. Calling it again while already in progress is a no-op.
func (s *Service) StartReport(ctx context.Context, id, doctorID uuid.UUID) (*Study, error) {
	const op = "start report"
	return s.mutate(ctx, id, op, func(next *Study) (bool, error) {
		if err := checkOwner(next, op, doctorID); err != nil {
			return false, err
		}
		if next.WorkflowStatus == StatusReportInProgress {
			return false, nil
		}
		return true, apply(next, op, StatusReportInProgress, doctorID.String(), "", s.now())
	})
}

// FinalizeReport stores the report and moves the study to report_finalized.
// On an already finalized study the content is replaced and the original
// finalization time is kept.
func (s *Service) FinalizeReport(ctx context.Context, id, doctorID uuid.UUID, content string) (*Study, error) {
	const op = "finalize report"
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: report content is required", ErrInvalidInput)
	}
	return s.mutate(ctx, id, op, func(next *Study) (bool, error) {
		if err := checkOwner(next, op, doctorID); err != nil {
			return false, err
		}
		if next.WorkflowStatus == StatusReportFinalized {
			at := record(next, StatusReportFinalized, doctorID.String(), "report revised", s.now())
			next.ReportInfo.Content = content
			touch(next, at)
			return true, nil
		}
		if err := apply(next, op, StatusReportFinalized, doctorID.String(), "", s.now()); err != nil {
			return false, err
		}
		next.ReportInfo.Content = content
		return true, nil
	})
}

// mutate reads the study, lets fn prepare the next state on a copy, and
// writes it back with a compare-and-swap on the snapshot it read. fn
// returns false when nothing needs to be written.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, op string, fn func(next *Study) (bool, error)) (*Study, error) {
	cur, err := s.studies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return cur, nil
	}

	next.Version = cur.Version + 1
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	guard := GuardOf(cur)
	appended := next.StatusHistory[len(cur.StatusHistory):]
	if err := s.studies.CompareAndSwap(ctx, next, guard, appended); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return nil, &ConflictError{StudyID: id, Op: op, ExpectedVersion: guard.Version, ExpectedStatus: guard.Status}
		}
		return nil, fmt.Errorf("%s study %s: %w", op, id, err)
	}
	return next, nil
}

// Column widths of the study table.
const (
	maxUIDLen         = 128
	maxAccessionLen   = 64
	maxDescriptionLen = 512
)

func checkWidths(st *Study) error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"study_instance_uid", st.StudyInstanceUID, maxUIDLen},
		{"accession_number", st.AccessionNumber, maxAccessionLen},
		{"exam_description", st.ExamDescription, maxDescriptionLen},
	}
	for _, f := range fields {
		if n := utf8.RuneCountInString(f.value); n > f.max {
			return fmt.Errorf("%w: %s is %d characters, limit %d", ErrInvalidInput, f.name, n, f.max)
		}
	}
	return nil
}

func checkOwner(st *Study, op string, doctorID uuid.UUID) error {
	if !st.IsAssignedTo(doctorID) {
		return &OwnershipError{StudyID: st.ID, Op: op, Caller: doctorID, AssignedTo: st.AssignedTo()}
	}
	return nil
}

func lookupErr(kind string, id uuid.UUID, err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id.String()}
	}
	return fmt.Errorf("lookup %s %s: %w", kind, id, err)
}
