package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/studyflow/studyflow/internal/domain/study"
	"github.com/studyflow/studyflow/internal/domain/worklist"
	"github.com/studyflow/studyflow/internal/platform/dicomio"
)

const ingestActor = "studyflow-ingest"

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Register studies from DICOM files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			labFlag, _ := c.Flags().GetString("lab")
			var labID *uuid.UUID
			if labFlag != "" {
				id, err := uuid.Parse(labFlag)
				if err != nil {
					return fmt.Errorf("--lab: %w", err)
				}
				labID = &id
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			headers, err := dicomio.Scan(args, func(path string, err error) {
				logger.Debug().Err(err).Str("path", path).Msg("skipping non-DICOM file")
			})
			if err != nil {
				return err
			}
			if len(headers) == 0 {
				return fmt.Errorf("no DICOM studies found under %v", args)
			}

			a, err := buildApp(c.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res := ingestStudies(c.Context(), a.studies, headers, labID, logger)
			fmt.Fprintf(c.OutOrStdout(), "%s created, %s already present, %s failed\n",
				humanize.Comma(int64(res.created)), humanize.Comma(int64(res.existing)), humanize.Comma(int64(res.failed)))
			if res.failed > 0 {
				return fmt.Errorf("%d studies could not be ingested", res.failed)
			}
			return nil
		},
	}
	cmd.Flags().String("lab", "", "Lab ID to attach to every ingested study")
	return cmd
}

type ingester interface {
	Ingest(ctx context.Context, st *study.Study, actor string) error
}

type ingestResult struct {
	created, existing, failed int
}

// studyFromHeader maps grouped DICOM headers onto a new study. A study date
// that is not a valid DICOM DA is dropped rather than failing the study.
func studyFromHeader(h *dicomio.StudyHeader, labID *uuid.UUID) *study.Study {
	st := &study.Study{
		StudyInstanceUID: h.StudyInstanceUID,
		AccessionNumber:  h.AccessionNumber,
		Modalities:       h.Modalities,
		SeriesCount:      h.SeriesCount,
		ImageCount:       h.ImageCount,
		ExamDescription:  h.StudyDescription,
		LabID:            labID,
	}
	if _, err := study.ParseStudyDate(h.StudyDate); err == nil {
		st.StudyDate = h.StudyDate
	}
	return st
}

func ingestStudies(ctx context.Context, svc ingester, headers []*dicomio.StudyHeader, labID *uuid.UUID, logger zerolog.Logger) ingestResult {
	var res ingestResult
	for _, h := range headers {
		st := studyFromHeader(h, labID)
		err := svc.Ingest(ctx, st, ingestActor)
		switch {
		case err == nil:
			res.created++
			logger.Info().Str("study_instance_uid", st.StudyInstanceUID).Str("study_id", st.ID.String()).
				Int("images", st.ImageCount).Msg("study ingested")
		case errors.Is(err, study.ErrAlreadyExists):
			res.existing++
			logger.Info().Str("study_instance_uid", st.StudyInstanceUID).Msg("study already ingested")
		default:
			res.failed++
			logger.Error().Err(err).Str("study_instance_uid", st.StudyInstanceUID).Msg("ingest failed")
		}
	}
	return res
}

// filterFromQuery parses a worklist query string with the same rules as
// the HTTP endpoints.
func filterFromQuery(query string, a *app) (worklist.Filter, error) {
	req, err := http.NewRequest(http.MethodGet, "/?"+query, nil)
	if err != nil {
		return worklist.Filter{}, err
	}
	c := echo.New().NewContext(req, nil)
	return worklist.ParseFilter(c, a.worklist.Now())
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the worklist as CSV",
		Long: "Export the worklist as CSV to a file, stdout, or object storage.\n" +
			"--filter takes the worklist query string, e.g. \"category=completed&preset=last7days\".",
		RunE: func(c *cobra.Command, args []string) error {
			query, _ := c.Flags().GetString("filter")
			out, _ := c.Flags().GetString("out")
			upload, _ := c.Flags().GetBool("upload")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env).Output(os.Stderr)

			a, err := buildApp(c.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := filterFromQuery(query, a)
			if err != nil {
				return err
			}

			if upload {
				if a.exporter == nil {
					return fmt.Errorf("--upload needs MINIO_ENDPOINT and REDIS_URL")
				}
				res, err := a.exporter.Export(c.Context(), f)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "%s\n%s\n", res.Object, res.URL)
				return nil
			}

			var w io.Writer = c.OutOrStdout()
			if out != "" && out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			rows, err := a.worklist.ExportCSV(c.Context(), f, w)
			if err != nil {
				return err
			}
			logger.Info().Str("rows", humanize.Comma(rows)).Str("filter_key", f.Key()).Msg("worklist exported")
			return nil
		},
	}
	cmd.Flags().String("filter", "", "Worklist query string")
	cmd.Flags().StringP("out", "o", "-", "Output file, - for stdout")
	cmd.Flags().Bool("upload", false, "Upload to object storage and print a presigned URL")
	return cmd
}
