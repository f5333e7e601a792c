package study

import (
	"fmt"
	"time"
)

// Baseline is one of the timestamp fields used as a TAT endpoint and as a
// date-range filter target.
type Baseline string

const (
	BaselineStudyDate      Baseline = "study_date"
	BaselineUploadDate     Baseline = "upload_date"
	BaselineAssignmentDate Baseline = "assignment_date"
	BaselineReportDate     Baseline = "report_date"
)

var Baselines = []Baseline{
	BaselineStudyDate,
	BaselineUploadDate,
	BaselineAssignmentDate,
	BaselineReportDate,
}

// StudyDateLayout is the DICOM DA format used for Study.StudyDate.
const StudyDateLayout = "20060102"

// ParseBaseline validates a baseline name. An empty value selects the upload date.
func ParseBaseline(s string) (Baseline, error) {
	if s == "" {
		return BaselineUploadDate, nil
	}
	for _, b := range Baselines {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("invalid date baseline: %s", s)
}

// Column is the study table column holding this baseline. It must name the
// same field TimeOf reads.
func (b Baseline) Column() string {
	switch b {
	case BaselineStudyDate:
		return "study_date"
	case BaselineUploadDate:
		return "created_at"
	case BaselineAssignmentDate:
		return "assigned_at"
	case BaselineReportDate:
		return "finalized_at"
	}
	return ""
}

// CalendarDate reports whether the column stores a YYYYMMDD string rather
// than a timestamp.
func (b Baseline) CalendarDate() bool {
	return b == BaselineStudyDate
}

// TimeOf returns the baseline instant for a study, or nil when unset or
// unparseable.
func (b Baseline) TimeOf(s *Study) *time.Time {
	switch b {
	case BaselineStudyDate:
		t, err := ParseStudyDate(s.StudyDate)
		if err != nil {
			return nil
		}
		return &t
	case BaselineUploadDate:
		if s.CreatedAt.IsZero() {
			return nil
		}
		t := s.CreatedAt
		return &t
	case BaselineAssignmentDate:
		if s.Assignment == nil || s.Assignment.AssignedAt.IsZero() {
			return nil
		}
		t := s.Assignment.AssignedAt
		return &t
	case BaselineReportDate:
		return copyTime(s.ReportInfo.FinalizedAt)
	}
	return nil
}

// ParseStudyDate parses a YYYYMMDD study date as midnight UTC.
func ParseStudyDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("study date is empty")
	}
	t, err := time.ParseInLocation(StudyDateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid study date %q: expected YYYYMMDD", s)
	}
	return t, nil
}
