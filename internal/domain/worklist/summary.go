package worklist

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/studyflow/studyflow/internal/domain/study"
)

// Bucket is the aggregate for one workflow status over a filtered set.
// Sums and Samples cover non-negative TAT values only; negative ones are
// counted in Anomalies.
type Bucket struct {
	Status    study.Status
	Count     int64
	Sums      map[study.Metric]int64
	Samples   map[study.Metric]int64
	Anomalies map[study.Metric]int64
}

// MetricStats summarises one TAT metric over a set.
type MetricStats struct {
	Average     *float64   `json:"average_minutes"`
	AverageText string     `json:"average_text,omitempty"`
	Tier        study.Tier `json:"tier,omitempty"`
	Samples     int64      `json:"samples"`
	Anomalies   int64      `json:"anomalies"`
}

// Summary is computed over the whole filtered set, never a page.
type Summary struct {
	Total          int64                        `json:"total"`
	ByStatus       map[study.Status]int64       `json:"by_status"`
	ByCategory     map[study.Category]int64     `json:"by_category"`
	Completed      int64                        `json:"completed"`
	CompletionRate float64                      `json:"completion_rate"`
	Turnaround     map[study.Metric]MetricStats `json:"turnaround"`
}

// accumulator folds buckets or individual rows into a Summary.
type accumulator struct {
	total     int64
	byStatus  map[study.Status]int64
	sums      map[study.Metric]int64
	samples   map[study.Metric]int64
	anomalies map[study.Metric]int64
	unknown   map[study.Status]bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		byStatus:  make(map[study.Status]int64),
		sums:      make(map[study.Metric]int64),
		samples:   make(map[study.Metric]int64),
		anomalies: make(map[study.Metric]int64),
		unknown:   make(map[study.Status]bool),
	}
}

func (a *accumulator) addBucket(b Bucket) {
	a.total += b.Count
	a.byStatus[b.Status] += b.Count
	if study.Classify(b.Status) == study.CategoryUnknown {
		a.unknown[b.Status] = true
	}
	for _, m := range study.Metrics {
		a.sums[m] += b.Sums[m]
		a.samples[m] += b.Samples[m]
		a.anomalies[m] += b.Anomalies[m]
	}
}

func (a *accumulator) addView(v StudyView) {
	b := Bucket{
		Status:    v.WorkflowStatus,
		Count:     1,
		Sums:      map[study.Metric]int64{},
		Samples:   map[study.Metric]int64{},
		Anomalies: map[study.Metric]int64{},
	}
	for _, m := range study.Metrics {
		val := v.Timing.Get(m)
		switch {
		case val == nil:
		case *val < 0:
			b.Anomalies[m] = 1
		default:
			b.Sums[m] = *val
			b.Samples[m] = 1
		}
	}
	a.addBucket(b)
}

func (a *accumulator) summary(logger zerolog.Logger) Summary {
	s := Summary{
		Total:      a.total,
		ByStatus:   a.byStatus,
		ByCategory: make(map[study.Category]int64, len(study.Categories)),
		Turnaround: make(map[study.Metric]MetricStats, len(study.Metrics)),
	}
	for _, c := range study.Categories {
		s.ByCategory[c] = 0
	}
	for st, n := range a.byStatus {
		s.ByCategory[study.Classify(st)] += n
		if study.IsCompleted(st) {
			s.Completed += n
		}
	}
	s.CompletionRate = CompletionRate(s.Completed, s.Total)

	for _, m := range study.Metrics {
		ms := MetricStats{Samples: a.samples[m], Anomalies: a.anomalies[m]}
		if ms.Samples > 0 {
			avg := float64(a.sums[m]) / float64(ms.Samples)
			ms.Average = &avg
			rounded := int64(math.Round(avg))
			ms.AverageText = study.FormatMinutes(rounded)
			ms.Tier = study.TierFor(rounded)
		}
		s.Turnaround[m] = ms
	}

	for st := range a.unknown {
		logger.Warn().Str("workflow_status", string(st)).Int64("count", a.byStatus[st]).
			Msg("studies with unrecognised workflow status counted as unknown")
	}
	return s
}

// Fold combines per-status buckets into a Summary.
func Fold(buckets []Bucket, logger zerolog.Logger) Summary {
	acc := newAccumulator()
	for _, b := range buckets {
		acc.addBucket(b)
	}
	return acc.summary(logger)
}

// FoldViews summarises already-loaded rows.
func FoldViews(views []StudyView, logger zerolog.Logger) Summary {
	acc := newAccumulator()
	for _, v := range views {
		acc.addView(v)
	}
	return acc.summary(logger)
}

// CompletionRate is completed/total, or 0 for an empty set.
func CompletionRate(completed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total)
}
