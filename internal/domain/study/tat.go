package study

import (
	"fmt"
	"time"
)

// Metric names a turnaround-time measurement. Every metric ends at the
// report baseline.
type Metric string

const (
	MetricStudyToReport  Metric = "study_to_report"
	MetricUploadToReport Metric = "upload_to_report"
	MetricAssignToReport Metric = "assign_to_report"
)

var Metrics = []Metric{MetricStudyToReport, MetricUploadToReport, MetricAssignToReport}

// Start returns the baseline the metric is measured from.
func (m Metric) Start() Baseline {
	switch m {
	case MetricStudyToReport:
		return BaselineStudyDate
	case MetricUploadToReport:
		return BaselineUploadDate
	case MetricAssignToReport:
		return BaselineAssignmentDate
	}
	return ""
}

// End returns the baseline the metric is measured to.
func (m Metric) End() Baseline { return BaselineReportDate }

// Column is the study table column caching this metric.
func (m Metric) Column() string {
	if m.Start() == "" {
		return ""
	}
	return string(m) + "_min"
}

// TAT holds whole-minute turnaround values. A nil field means one of the
// endpoints is missing.
type TAT struct {
	StudyToReport  *int64 `json:"study_to_report"`
	UploadToReport *int64 `json:"upload_to_report"`
	AssignToReport *int64 `json:"assign_to_report"`
}

// Get returns the value for a metric.
func (t TAT) Get(m Metric) *int64 {
	switch m {
	case MetricStudyToReport:
		return t.StudyToReport
	case MetricUploadToReport:
		return t.UploadToReport
	case MetricAssignToReport:
		return t.AssignToReport
	}
	return nil
}

func (t *TAT) set(m Metric, v *int64) {
	switch m {
	case MetricStudyToReport:
		t.StudyToReport = v
	case MetricUploadToReport:
		t.UploadToReport = v
	case MetricAssignToReport:
		t.AssignToReport = v
	}
}

func (t TAT) clone() TAT {
	var c TAT
	for _, m := range Metrics {
		if v := t.Get(m); v != nil {
			n := *v
			c.set(m, &n)
		}
	}
	return c
}

// ComputeTAT derives all turnaround metrics from a study's timestamps.
func ComputeTAT(s *Study) TAT {
	var t TAT
	for _, m := range Metrics {
		t.set(m, MinutesBetween(m.Start().TimeOf(s), m.End().TimeOf(s)))
	}
	return t
}

// MinutesBetween returns the whole minutes from start to end, truncated
// toward zero. Negative results are returned unchanged.
func MinutesBetween(start, end *time.Time) *int64 {
	if start == nil || end == nil {
		return nil
	}
	m := int64(end.Sub(*start) / time.Minute)
	return &m
}

// Tier is a color-coded performance bucket for a duration.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierDelayed   Tier = "delayed"
	TierCritical  Tier = "critical"
	// TierAnomalous marks a negative duration (clock skew or bad source data).
	TierAnomalous Tier = "anomalous"
)

// TierFor buckets a duration in minutes.
func TierFor(minutes int64) Tier {
	switch {
	case minutes < 0:
		return TierAnomalous
	case minutes <= 60:
		return TierExcellent
	case minutes <= 240:
		return TierGood
	case minutes <= 480:
		return TierFair
	case minutes <= 1440:
		return TierDelayed
	default:
		return TierCritical
	}
}

const (
	minutesPerHour = 60
	minutesPerDay  = 24 * minutesPerHour
	minutesPerWeek = 7 * minutesPerDay
)

// FormatMinutes renders a non-negative duration in compact units: "45m",
// "4h 30m", "2d 3h", "1w 2d". Negative values get a leading "-".
func FormatMinutes(minutes int64) string {
	if minutes < 0 {
		return "-" + FormatMinutes(-minutes)
	}
	switch {
	case minutes < minutesPerHour:
		return fmt.Sprintf("%dm", minutes)
	case minutes < minutesPerDay:
		return fmt.Sprintf("%dh %dm", minutes/minutesPerHour, minutes%minutesPerHour)
	case minutes < minutesPerWeek:
		return fmt.Sprintf("%dd %dh", minutes/minutesPerDay, (minutes%minutesPerDay)/minutesPerHour)
	default:
		return fmt.Sprintf("%dw %dd", minutes/minutesPerWeek, (minutes%minutesPerWeek)/minutesPerDay)
	}
}

// Duration is the display form of one metric value.
type Duration struct {
	Minutes   *int64 `json:"minutes"`
	Text      string `json:"text,omitempty"`
	Tier      Tier   `json:"tier,omitempty"`
	Anomalous bool   `json:"anomalous,omitempty"`
}

// Describe formats a nullable minute value. Nil stays nil with no text.
func Describe(minutes *int64) Duration {
	if minutes == nil {
		return Duration{}
	}
	v := *minutes
	return Duration{
		Minutes:   &v,
		Text:      FormatMinutes(v),
		Tier:      TierFor(v),
		Anomalous: v < 0,
	}
}

// TATView is the per-record display form of a TAT.
type TATView struct {
	StudyToReport  Duration `json:"study_to_report"`
	UploadToReport Duration `json:"upload_to_report"`
	AssignToReport Duration `json:"assign_to_report"`
}

func (t TAT) View() TATView {
	return TATView{
		StudyToReport:  Describe(t.StudyToReport),
		UploadToReport: Describe(t.UploadToReport),
		AssignToReport: Describe(t.AssignToReport),
	}
}
