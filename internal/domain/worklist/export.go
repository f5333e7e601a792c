package worklist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/studyflow/studyflow/internal/domain/study"
	"github.com/studyflow/studyflow/internal/platform/blobstore"
	"github.com/studyflow/studyflow/internal/platform/cache"
)

// ErrExportInProgress is returned when the same filter is already being
// exported to object storage.
var ErrExportInProgress = errors.New("an export for this filter is already running")

var csvHeader = []string{
	"study_id", "study_instance_uid", "accession_number",
	"patient_name", "patient_mrn", "lab", "modalities",
	"study_date", "exam_description", "workflow_status", "category", "priority",
	"assigned_doctor", "assigned_at", "started_at", "finalized_at", "created_at",
	"study_to_report_min", "study_to_report", "upload_to_report_min", "upload_to_report",
	"assign_to_report_min", "assign_to_report",
}

const csvFlushEvery = 200

func csvRecord(v StudyView) []string {
	rec := []string{
		v.ID.String(), v.StudyInstanceUID, v.AccessionNumber,
		v.PatientName, v.PatientMRN, v.LabName, strings.Join(v.Modalities, " "),
		v.StudyDate, v.ExamDescription, string(v.WorkflowStatus), string(v.Category), string(v.Priority),
		v.DoctorName, csvTime(v.AssignedAt), csvTime(v.StartedAt), csvTime(v.FinalizedAt), csvTime(&v.CreatedAt),
	}
	for _, m := range study.Metrics {
		d := study.Describe(v.Timing.Get(m))
		if d.Minutes == nil {
			rec = append(rec, "", "")
			continue
		}
		rec = append(rec, strconv.FormatInt(*d.Minutes, 10), d.Text)
	}
	return rec
}

func csvTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ExportCSV writes the filtered set to w one row at a time and returns the
// number of data rows written.
func (s *Service) ExportCSV(ctx context.Context, f Filter, w io.Writer) (int64, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	var rows int64
	err := s.repo.Stream(ctx, f, func(v StudyView) error {
		if err := cw.Write(csvRecord(v)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
		rows++
		if rows%csvFlushEvery == 0 {
			cw.Flush()
			return cw.Error()
		}
		return nil
	})
	cw.Flush()
	if err == nil {
		err = cw.Error()
	}
	return rows, err
}

// Locker serialises exports of the same filter. cache.Locker satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// ExportResult describes an export written to object storage.
type ExportResult struct {
	Object    string    `json:"object"`
	URL       string    `json:"url"`
	Rows      int64     `json:"rows"`
	Size      int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"url_expires_at"`
}

// Exporter streams worklist CSVs into a blob store.
type Exporter struct {
	svc     *Service
	store   blobstore.BlobStore
	locker  Locker
	lockTTL time.Duration
	urlTTL  time.Duration
	logger  zerolog.Logger
}

// NewExporter wires an exporter. locker may be nil for single-process use.
func NewExporter(svc *Service, store blobstore.BlobStore, locker Locker, lockTTL, urlTTL time.Duration, logger zerolog.Logger) *Exporter {
	return &Exporter{
		svc:     svc,
		store:   store,
		locker:  locker,
		lockTTL: lockTTL,
		urlTTL:  urlTTL,
		logger:  logger.With().Str("component", "export").Logger(),
	}
}

// Export pipes the CSV straight into the store so no more than one row is
// buffered, then returns a presigned URL for the object.
func (e *Exporter) Export(ctx context.Context, f Filter) (*ExportResult, error) {
	key := f.Key()
	if e.locker != nil {
		release, err := e.locker.Obtain(ctx, "export:"+key, e.lockTTL)
		if errors.Is(err, cache.ErrLocked) {
			return nil, ErrExportInProgress
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn().Err(err).Str("filter_key", key).Msg("release export lock")
			}
		}()
	}

	start := e.svc.Now()
	name := blobstore.ExportObjectName(key, start)

	type written struct {
		rows int64
		err  error
	}
	pr, pw := io.Pipe()
	done := make(chan written, 1)
	go func() {
		rows, err := e.svc.ExportCSV(ctx, f, pw)
		pw.CloseWithError(err)
		done <- written{rows, err}
	}()

	meta, upErr := e.store.Upload(ctx, name, "text/csv", pr)
	pr.CloseWithError(errors.New("upload finished"))
	w := <-done
	if upErr != nil {
		return nil, fmt.Errorf("upload %s: %w", name, upErr)
	}
	if w.err != nil {
		return nil, fmt.Errorf("export %s: %w", name, w.err)
	}

	url, err := e.store.PresignedURL(ctx, name, e.urlTTL)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("object", name).
		Str("rows", humanize.Comma(w.rows)).
		Str("size", humanize.Bytes(uint64(meta.Size))).
		Dur("took", e.svc.Now().Sub(start)).
		Msg("worklist export uploaded")

	return &ExportResult{
		Object:    name,
		URL:       url,
		Rows:      w.rows,
		Size:      meta.Size,
		ExpiresAt: start.Add(e.urlTTL).UTC(),
	}, nil
}
