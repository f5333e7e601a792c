package study

import (
	"fmt"
	"strings"
)

// Status is the workflow status of a study. Only the values declared below
// are valid; anything else is rejected by ParseStatus.
type Status string

const (
	StatusNewStudyReceived            Status = "new_study_received"
	StatusPendingAssignment           Status = "pending_assignment"
	StatusAssignedToDoctor            Status = "assigned_to_doctor"
	StatusDoctorOpenedReport          Status = "doctor_opened_report"
	StatusReportInProgress            Status = "report_in_progress"
	StatusReportFinalized             Status = "report_finalized"
	StatusReportUploaded              Status = "report_uploaded"
	StatusReportDownloadedRadiologist Status = "report_downloaded_radiologist"
	StatusReportDownloaded            Status = "report_downloaded"
	StatusFinalReportDownloaded       Status = "final_report_downloaded"
	StatusArchived                    Status = "archived"
)

// AllStatuses lists every workflow status in order of typical progression.
var AllStatuses = []Status{
	StatusNewStudyReceived,
	StatusPendingAssignment,
	StatusAssignedToDoctor,
	StatusDoctorOpenedReport,
	StatusReportInProgress,
	StatusReportFinalized,
	StatusReportUploaded,
	StatusReportDownloadedRadiologist,
	StatusReportDownloaded,
	StatusFinalReportDownloaded,
	StatusArchived,
}

// transitions is the adjacency set of the workflow graph, excluding the
// administrative archive edge which every non-terminal state has.
var transitions = map[Status][]Status{
	StatusNewStudyReceived:            {StatusPendingAssignment},
	StatusPendingAssignment:           {StatusAssignedToDoctor},
	StatusAssignedToDoctor:            {StatusDoctorOpenedReport, StatusReportInProgress},
	StatusDoctorOpenedReport:          {StatusReportInProgress},
	StatusReportInProgress:            {StatusReportFinalized},
	StatusReportFinalized:             {StatusReportUploaded},
	StatusReportUploaded:              {StatusReportDownloadedRadiologist},
	StatusReportDownloadedRadiologist: {StatusReportDownloaded},
	StatusReportDownloaded:            {StatusFinalReportDownloaded},
	StatusFinalReportDownloaded:       {},
	StatusArchived:                    nil,
}

// ParseStatus converts a raw string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Valid reports whether s is one of the declared workflow statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusArchived
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether to is reachable from s in one step.
func (s Status) CanTransition(to Status) bool {
	if !s.Valid() || !to.Valid() || s.Terminal() {
		return false
	}
	if to == StatusArchived {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func (s Status) NextStatuses() []Status {
	if !s.Valid() || s.Terminal() {
		return nil
	}
	out := make([]Status, 0, len(transitions[s])+1)
	out = append(out, transitions[s]...)
	return append(out, StatusArchived)
}

// Priority is the urgency attached to an assignment.
type Priority string

const (
	PriorityRoutine Priority = "routine"
	PriorityUrgent  Priority = "urgent"
	PriorityASAP    Priority = "asap"
	PriorityStat    Priority = "stat"
)

var validPriorities = map[Priority]bool{
	PriorityRoutine: true, PriorityUrgent: true, PriorityASAP: true, PriorityStat: true,
}

// ParsePriority validates a priority string. An empty value means routine.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityRoutine, nil
	}
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !validPriorities[p] {
		return "", fmt.Errorf("invalid priority: %s", s)
	}
	return p, nil
}
