package worklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyflow/studyflow/internal/domain/study"
	"github.com/studyflow/studyflow/pkg/pagination"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const viewCols = `s.id, s.study_instance_uid, s.accession_number, s.modalities,
	s.series_count, s.image_count, s.study_date, s.exam_description,
	s.workflow_status, s.priority, s.lab_id, COALESCE(l.name, ''),
	s.patient_id, COALESCE(p.name, ''), COALESCE(p.mrn, ''),
	s.assigned_to, COALESCE(d.name, ''), s.assigned_at, s.started_at, s.finalized_at,
	s.created_at, s.updated_at,
	s.study_to_report_min, s.upload_to_report_min, s.assign_to_report_min`

func scanView(row pgx.Row) (StudyView, error) {
	var (
		v        StudyView
		status   string
		priority *string
	)
	err := row.Scan(&v.ID, &v.StudyInstanceUID, &v.AccessionNumber, &v.Modalities,
		&v.SeriesCount, &v.ImageCount, &v.StudyDate, &v.ExamDescription,
		&status, &priority, &v.LabID, &v.LabName,
		&v.PatientID, &v.PatientName, &v.PatientMRN,
		&v.AssignedTo, &v.DoctorName, &v.AssignedAt, &v.StartedAt, &v.FinalizedAt,
		&v.CreatedAt, &v.UpdatedAt,
		&v.Timing.StudyToReport, &v.Timing.UploadToReport, &v.Timing.AssignToReport)
	if err != nil {
		return v, err
	}
	v.WorkflowStatus = study.Status(status)
	if priority != nil {
		v.Priority = study.Priority(*priority)
	}
	v.annotate()
	return v, nil
}

func (r *repoPG) Page(ctx context.Context, f Filter, p pagination.Params) ([]StudyView, int, error) {
	q := buildQuery(f)

	var total int
	if err := r.pool.QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count worklist: %w", err)
	}

	sql, args := q.PageSQL(viewCols, p.Limit(), p.Offset())
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query worklist: %w", err)
	}
	defer rows.Close()

	items := []StudyView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan worklist row: %w", err)
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

// summaryCols aggregates every metric per status. Negative values are
// anomalies and stay out of the sums.
func summaryCols() string {
	cols := []string{"s.workflow_status", "COUNT(*)"}
	for _, m := range study.Metrics {
		c := "s." + m.Column()
		cols = append(cols,
			fmt.Sprintf("COALESCE(SUM(%[1]s) FILTER (WHERE %[1]s >= 0), 0)::bigint", c),
			fmt.Sprintf("COUNT(*) FILTER (WHERE %s >= 0)", c),
			fmt.Sprintf("COUNT(*) FILTER (WHERE %s < 0)", c))
	}
	return strings.Join(cols, ", ")
}

func (r *repoPG) Summarize(ctx context.Context, f Filter) ([]Bucket, error) {
	q := buildQuery(f)
	rows, err := r.pool.Query(ctx, q.GroupSQL(summaryCols(), "s.workflow_status"), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("summarize worklist: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var status string
		b := Bucket{
			Sums:      make(map[study.Metric]int64, len(study.Metrics)),
			Samples:   make(map[study.Metric]int64, len(study.Metrics)),
			Anomalies: make(map[study.Metric]int64, len(study.Metrics)),
		}
		vals := make([]int64, 3*len(study.Metrics))
		dest := []interface{}{&status, &b.Count}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		b.Status = study.Status(status)
		for i, m := range study.Metrics {
			b.Sums[m] = vals[3*i]
			b.Samples[m] = vals[3*i+1]
			b.Anomalies[m] = vals[3*i+2]
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (r *repoPG) Stream(ctx context.Context, f Filter, fn func(StudyView) error) error {
	q := buildQuery(f)
	rows, err := r.pool.Query(ctx, q.SelectSQL(viewCols), q.Args()...)
	if err != nil {
		return fmt.Errorf("stream worklist: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return fmt.Errorf("scan worklist row: %w", err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return rows.Err()
}
