package study

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The functions in this file are the only code that changes WorkflowStatus,
// Assignment or ReportInfo. They operate on a cloned snapshot; persisting
// the result is the repository's job.

// seed initialises a freshly ingested study.
func seed(s *Study, actor string, now time.Time) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	at := now.UTC()
	s.WorkflowStatus = StatusNewStudyReceived
	s.Assignment = nil
	s.ReportInfo = ReportInfo{}
	s.StatusHistory = []StatusEntry{{
		Seq:       1,
		Status:    StatusNewStudyReceived,
		ChangedAt: at,
		ChangedBy: actor,
		Note:      "study received",
	}}
	s.Version = 1
	s.CreatedAt = at
	s.UpdatedAt = at
	s.Timing = ComputeTAT(s)
}

// apply moves s to target and appends one ledger entry.
func apply(s *Study, op string, target Status, actor, note string, now time.Time) error {
	if !s.WorkflowStatus.CanTransition(target) {
		return &TransitionError{StudyID: s.ID, Op: op, From: s.WorkflowStatus, To: target}
	}
	if target == StatusArchived && strings.TrimSpace(note) == "" {
		return fmt.Errorf("%s study %s: %w: archiving needs a reason", op, s.ID, ErrNoteRequired)
	}

	at := record(s, target, actor, note, now)
	s.WorkflowStatus = target

	switch target {
	case StatusReportInProgress:
		if s.ReportInfo.StartedAt == nil {
			s.ReportInfo.StartedAt = &at
		}
	case StatusReportFinalized:
		if s.ReportInfo.FinalizedAt == nil {
			s.ReportInfo.FinalizedAt = &at
		}
	}
	touch(s, at)
	return nil
}

// bind replaces the current assignment. A first assignment moves the study
// to assigned_to_doctor; a reassignment keeps the status and logs a
// same-status ledger entry.
func bind(s *Study, doctorID uuid.UUID, priority Priority, actor string, now time.Time) (bool, error) {
	const op = "assign"
	switch s.WorkflowStatus {
	case StatusPendingAssignment:
		if err := apply(s, op, StatusAssignedToDoctor, actor, fmt.Sprintf("assigned to %s", doctorID), now); err != nil {
			return false, err
		}
		at := s.StatusHistory[len(s.StatusHistory)-1].ChangedAt
		s.Assignment = &Assignment{AssignedTo: doctorID, AssignedAt: at, Priority: priority, AssignedBy: actor}
	case StatusAssignedToDoctor, StatusDoctorOpenedReport, StatusReportInProgress:
		if s.IsAssignedTo(doctorID) {
			// same holder: AssignedAt anchors assign_to_report and stays put
			if s.Assignment.Priority == priority {
				return false, nil
			}
			note := fmt.Sprintf("priority changed from %s to %s", s.Assignment.Priority, priority)
			record(s, s.WorkflowStatus, actor, note, now)
			s.Assignment.Priority = priority
			break
		}
		note := fmt.Sprintf("reassigned to %s", doctorID)
		if prev := s.AssignedTo(); prev != nil {
			note = fmt.Sprintf("reassigned from %s to %s", *prev, doctorID)
		}
		at := record(s, s.WorkflowStatus, actor, note, now)
		s.Assignment = &Assignment{AssignedTo: doctorID, AssignedAt: at, Priority: priority, AssignedBy: actor}
	default:
		return false, &TransitionError{StudyID: s.ID, Op: op, From: s.WorkflowStatus, To: StatusAssignedToDoctor}
	}
	touch(s, s.StatusHistory[len(s.StatusHistory)-1].ChangedAt)
	return true, nil
}

// record appends a ledger entry stamped with now, clamped so it never
// precedes the previous entry.
func record(s *Study, status Status, actor, note string, now time.Time) time.Time {
	at := now.UTC()
	n := len(s.StatusHistory)
	if n > 0 && at.Before(s.StatusHistory[n-1].ChangedAt) {
		at = s.StatusHistory[n-1].ChangedAt
	}
	s.StatusHistory = append(s.StatusHistory, StatusEntry{
		Seq:       n + 1,
		Status:    status,
		ChangedAt: at,
		ChangedBy: actor,
		Note:      note,
	})
	return at
}

func touch(s *Study, at time.Time) {
	s.Timing = ComputeTAT(s)
	s.UpdatedAt = at
}
