package study

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Study struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	StudyInstanceUID string     `db:"study_instance_uid" json:"study_instance_uid"`
	AccessionNumber  string     `db:"accession_number" json:"accession_number,omitempty"`
	PatientID        *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	LabID            *uuid.UUID `db:"lab_id" json:"lab_id,omitempty"`
	Modalities       []string   `db:"modalities" json:"modalities"`
	SeriesCount      int        `db:"series_count" json:"series_count"`
	ImageCount       int        `db:"image_count" json:"image_count"`
	StudyDate        string     `db:"study_date" json:"study_date,omitempty"`
	ExamDescription  string     `db:"exam_description" json:"exam_description,omitempty"`

	WorkflowStatus Status        `db:"workflow_status" json:"workflow_status"`
	Assignment     *Assignment   `json:"assignment,omitempty"`
	ReportInfo     ReportInfo    `json:"report_info"`
	StatusHistory  []StatusEntry `json:"status_history,omitempty"`
	Timing         TAT           `json:"timing"`

	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Assignment binds a study to the doctor accountable for it.
type Assignment struct {
	AssignedTo uuid.UUID `db:"assigned_to" json:"assigned_to"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
	Priority   Priority  `db:"priority" json:"priority"`
	AssignedBy string    `db:"assigned_by" json:"assigned_by,omitempty"`
}

type ReportInfo struct {
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinalizedAt *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`
	Content     string     `db:"report_content" json:"content,omitempty"`
}

// StatusEntry is one row of the status ledger. Entries are never edited.
type StatusEntry struct {
	Seq       int       `db:"seq" json:"seq"`
	Status    Status    `db:"status" json:"status"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
	ChangedBy string    `db:"changed_by" json:"changed_by"`
	Note      string    `db:"note" json:"note,omitempty"`
}

// AssignedTo returns the current assignee or nil.
func (s *Study) AssignedTo() *uuid.UUID {
	if s.Assignment == nil {
		return nil
	}
	id := s.Assignment.AssignedTo
	return &id
}

// IsAssignedTo reports whether doctorID holds the current assignment.
func (s *Study) IsAssignedTo(doctorID uuid.UUID) bool {
	return s.Assignment != nil && s.Assignment.AssignedTo == doctorID
}

// Category is a shorthand for Classify(s.WorkflowStatus).
func (s *Study) Category() Category {
	return Classify(s.WorkflowStatus)
}

// Clone returns a deep copy so a mutation can be prepared without touching
// the snapshot it was read from.
func (s *Study) Clone() *Study {
	c := *s
	c.Modalities = append([]string(nil), s.Modalities...)
	c.StatusHistory = append([]StatusEntry(nil), s.StatusHistory...)
	if s.Assignment != nil {
		a := *s.Assignment
		c.Assignment = &a
	}
	c.ReportInfo.StartedAt = copyTime(s.ReportInfo.StartedAt)
	c.ReportInfo.FinalizedAt = copyTime(s.ReportInfo.FinalizedAt)
	c.Timing = s.Timing.clone()
	if s.PatientID != nil {
		id := *s.PatientID
		c.PatientID = &id
	}
	if s.LabID != nil {
		id := *s.LabID
		c.LabID = &id
	}
	return &c
}

// Validate checks the entity invariants that must hold on every write.
func (s *Study) Validate() error {
	if s.StudyInstanceUID == "" {
		return fmt.Errorf("study %s: study_instance_uid is required", s.ID)
	}
	if !s.WorkflowStatus.Valid() {
		return fmt.Errorf("study %s: %w: %q", s.ID, ErrUnknownStatus, s.WorkflowStatus)
	}
	if len(s.StatusHistory) == 0 {
		return fmt.Errorf("study %s: status history is empty", s.ID)
	}
	tail := s.StatusHistory[len(s.StatusHistory)-1]
	if tail.Status != s.WorkflowStatus {
		return fmt.Errorf("study %s: status history ends in %s but workflow status is %s",
			s.ID, tail.Status, s.WorkflowStatus)
	}
	for i := 1; i < len(s.StatusHistory); i++ {
		if s.StatusHistory[i].ChangedAt.Before(s.StatusHistory[i-1].ChangedAt) {
			return fmt.Errorf("study %s: status history entry %d predates its predecessor", s.ID, i)
		}
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
