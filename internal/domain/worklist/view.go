package worklist

import (
	"time"

	"github.com/google/uuid"

	"github.com/studyflow/studyflow/internal/domain/study"
)

// StudyView is one worklist row: the study joined with display names and
// annotated with its category and turnaround times.
type StudyView struct {
	ID               uuid.UUID      `json:"id"`
	StudyInstanceUID string         `json:"study_instance_uid"`
	AccessionNumber  string         `json:"accession_number,omitempty"`
	Modalities       []string       `json:"modalities"`
	SeriesCount      int            `json:"series_count"`
	ImageCount       int            `json:"image_count"`
	StudyDate        string         `json:"study_date,omitempty"`
	ExamDescription  string         `json:"exam_description,omitempty"`
	WorkflowStatus   study.Status   `json:"workflow_status"`
	Category         study.Category `json:"category"`
	Priority         study.Priority `json:"priority,omitempty"`

	LabID       *uuid.UUID `json:"lab_id,omitempty"`
	LabName     string     `json:"lab_name,omitempty"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	PatientName string     `json:"patient_name,omitempty"`
	PatientMRN  string     `json:"patient_mrn,omitempty"`
	AssignedTo  *uuid.UUID `json:"assigned_to,omitempty"`
	DoctorName  string     `json:"doctor_name,omitempty"`

	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Timing study.TAT     `json:"-"`
	TAT    study.TATView `json:"tat"`
}

// annotate derives the fields computed from stored ones.
func (v *StudyView) annotate() {
	v.Category = study.Classify(v.WorkflowStatus)
	v.TAT = v.Timing.View()
	if v.Modalities == nil {
		v.Modalities = []string{}
	}
}

// ViewOf builds a row from a loaded study. Display names are left empty.
func ViewOf(s *study.Study) StudyView {
	v := StudyView{
		ID:               s.ID,
		StudyInstanceUID: s.StudyInstanceUID,
		AccessionNumber:  s.AccessionNumber,
		Modalities:       append([]string(nil), s.Modalities...),
		SeriesCount:      s.SeriesCount,
		ImageCount:       s.ImageCount,
		StudyDate:        s.StudyDate,
		ExamDescription:  s.ExamDescription,
		WorkflowStatus:   s.WorkflowStatus,
		LabID:            s.LabID,
		PatientID:        s.PatientID,
		StartedAt:        s.ReportInfo.StartedAt,
		FinalizedAt:      s.ReportInfo.FinalizedAt,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		Timing:           s.Timing,
	}
	if a := s.Assignment; a != nil {
		id, at := a.AssignedTo, a.AssignedAt
		v.AssignedTo = &id
		v.AssignedAt = &at
		v.Priority = a.Priority
	}
	v.annotate()
	return v
}
