package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyflow/studyflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type studyRepoPG struct{ pool *pgxpool.Pool }

func NewStudyRepoPG(pool *pgxpool.Pool) StudyRepository {
	return &studyRepoPG{pool: pool}
}

func (r *studyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const studyCols = `s.id, s.study_instance_uid, s.accession_number, s.patient_id, s.lab_id,
	s.modalities, s.series_count, s.image_count, s.study_date, s.exam_description,
	s.workflow_status, s.assigned_to, s.assigned_at, s.assigned_by, s.priority,
	s.started_at, s.finalized_at, s.report_content,
	s.study_to_report_min, s.upload_to_report_min, s.assign_to_report_min,
	s.version, s.created_at, s.updated_at`

// historyAgg reads the ledger in the same statement as the study row so both
// come from one snapshot.
const historyAgg = `COALESCE((
		SELECT json_agg(json_build_object(
			'seq', h.seq, 'status', h.status, 'changed_at', h.changed_at,
			'changed_by', h.changed_by, 'note', h.note) ORDER BY h.seq)
		FROM study_status_history h WHERE h.study_id = s.id), '[]'::json)`

func (r *studyRepoPG) scanStudy(row pgx.Row) (*Study, error) {
	var (
		s          Study
		status     string
		assignedTo *uuid.UUID
		assignedAt *time.Time
		assignedBy *string
		priority   *string
		history    []byte
	)
	err := row.Scan(&s.ID, &s.StudyInstanceUID, &s.AccessionNumber, &s.PatientID, &s.LabID,
		&s.Modalities, &s.SeriesCount, &s.ImageCount, &s.StudyDate, &s.ExamDescription,
		&status, &assignedTo, &assignedAt, &assignedBy, &priority,
		&s.ReportInfo.StartedAt, &s.ReportInfo.FinalizedAt, &s.ReportInfo.Content,
		&s.Timing.StudyToReport, &s.Timing.UploadToReport, &s.Timing.AssignToReport,
		&s.Version, &s.CreatedAt, &s.UpdatedAt, &history)
	if err != nil {
		return nil, err
	}
	s.WorkflowStatus = Status(status)
	if assignedTo != nil {
		a := &Assignment{AssignedTo: *assignedTo}
		if assignedAt != nil {
			a.AssignedAt = *assignedAt
		}
		if assignedBy != nil {
			a.AssignedBy = *assignedBy
		}
		if priority != nil {
			a.Priority = Priority(*priority)
		}
		s.Assignment = a
	}
	if err := json.Unmarshal(history, &s.StatusHistory); err != nil {
		return nil, fmt.Errorf("decode status history for study %s: %w", s.ID, err)
	}
	return &s, nil
}

func (r *studyRepoPG) Create(ctx context.Context, s *Study) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		a := assignmentCols(s)
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO study (id, study_instance_uid, accession_number, patient_id, lab_id,
				modalities, series_count, image_count, study_date, exam_description,
				workflow_status, assigned_to, assigned_at, assigned_by, priority,
				started_at, finalized_at, report_content,
				study_to_report_min, upload_to_report_min, assign_to_report_min,
				version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
			s.ID, s.StudyInstanceUID, s.AccessionNumber, s.PatientID, s.LabID,
			s.Modalities, s.SeriesCount, s.ImageCount, s.StudyDate, s.ExamDescription,
			string(s.WorkflowStatus), a.to, a.at, a.by, a.priority,
			s.ReportInfo.StartedAt, s.ReportInfo.FinalizedAt, s.ReportInfo.Content,
			s.Timing.StudyToReport, s.Timing.UploadToReport, s.Timing.AssignToReport,
			s.Version, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("study instance uid %s: %w", s.StudyInstanceUID, ErrAlreadyExists)
			}
			return fmt.Errorf("insert study: %w", err)
		}
		return r.appendHistory(ctx, s.ID, s.StatusHistory)
	})
}

func (r *studyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	s, err := r.scanStudy(r.conn(ctx).QueryRow(ctx,
		`SELECT `+studyCols+`, `+historyAgg+` FROM study s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, studyNotFound(id)
	}
	return s, err
}

func (r *studyRepoPG) GetByUID(ctx context.Context, uid string) (*Study, error) {
	s, err := r.scanStudy(r.conn(ctx).QueryRow(ctx,
		`SELECT `+studyCols+`, `+historyAgg+` FROM study s WHERE s.study_instance_uid = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "study", ID: uid}
	}
	return s, err
}

func (r *studyRepoPG) History(ctx context.Context, id uuid.UUID) ([]StatusEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT seq, status, changed_at, changed_by, note
		FROM study_status_history WHERE study_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []StatusEntry
	for rows.Next() {
		var e StatusEntry
		var status string
		if err := rows.Scan(&e.Seq, &status, &e.ChangedAt, &e.ChangedBy, &e.Note); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, studyNotFound(id)
	}
	return entries, nil
}

func (r *studyRepoPG) CompareAndSwap(ctx context.Context, next *Study, guard Guard, appended []StatusEntry) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		a := assignmentCols(next)
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE study SET workflow_status=$5, assigned_to=$6, assigned_at=$7, assigned_by=$8, priority=$9,
				started_at=$10, finalized_at=$11, report_content=$12,
				study_to_report_min=$13, upload_to_report_min=$14, assign_to_report_min=$15,
				version=$16, updated_at=$17
			WHERE id = $1 AND version = $2 AND workflow_status = $3
				AND assigned_to IS NOT DISTINCT FROM $4::uuid`,
			next.ID, guard.Version, string(guard.Status), guard.AssignedTo,
			string(next.WorkflowStatus), a.to, a.at, a.by, a.priority,
			next.ReportInfo.StartedAt, next.ReportInfo.FinalizedAt, next.ReportInfo.Content,
			next.Timing.StudyToReport, next.Timing.UploadToReport, next.Timing.AssignToReport,
			next.Version, next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update study: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := r.conn(ctx).QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM study WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return studyNotFound(next.ID)
			}
			return ErrConcurrentModification
		}
		return r.appendHistory(ctx, next.ID, appended)
	})
}

func (r *studyRepoPG) appendHistory(ctx context.Context, studyID uuid.UUID, entries []StatusEntry) error {
	for _, e := range entries {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO study_status_history (study_id, seq, status, changed_at, changed_by, note)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			studyID, e.Seq, string(e.Status), e.ChangedAt, e.ChangedBy, e.Note)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrConcurrentModification
			}
			return fmt.Errorf("append status history: %w", err)
		}
	}
	return nil
}

type assignmentRow struct {
	to       *uuid.UUID
	at       *time.Time
	by       *string
	priority *string
}

func assignmentCols(s *Study) assignmentRow {
	if s.Assignment == nil {
		return assignmentRow{}
	}
	to := s.Assignment.AssignedTo
	at := s.Assignment.AssignedAt
	by := s.Assignment.AssignedBy
	p := string(s.Assignment.Priority)
	return assignmentRow{to: &to, at: &at, by: &by, priority: &p}
}
