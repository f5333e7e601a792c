package main

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/studyflow/studyflow/internal/config"
	"github.com/studyflow/studyflow/internal/domain/study"
	"github.com/studyflow/studyflow/internal/platform/auth"
	"github.com/studyflow/studyflow/internal/platform/db"
	"github.com/studyflow/studyflow/internal/platform/dicomio"
)

func TestMigrationsFS_Embedded(t *testing.T) {
	matches, err := fs.Glob(migrationsFS(""), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected embedded migrations")
	}
}

func TestMigrationsFS_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "007_extra.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	migrations, err := db.NewMigrator(nil, migrationsFS(dir), "").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Version != 7 {
		t.Errorf("expected only version 7 from the directory, got %+v", migrations)
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_studyflow.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2024-03-01 09:30:00") {
		t.Errorf("expected applied row with timestamp, got:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected pending row, got:\n%s", out)
	}
}

func TestAuthMiddleware_DevBypass(t *testing.T) {
	cfg := &config.Config{Env: "development"}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	var roles []string
	err := authMiddleware(cfg)(func(c echo.Context) error {
		roles = auth.RolesFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0] != "admin" {
		t.Errorf("expected dev admin identity, got %v", roles)
	}
}

func TestAuthMiddleware_RequiresTokenWithSigningKey(t *testing.T) {
	cfg := &config.Config{Env: "development", AuthSigningKey: "local-secret"}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := authMiddleware(cfg)(func(c echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a bearer token, got %v", err)
	}
}

func TestStudyFromHeader(t *testing.T) {
	lab := uuid.New()
	st := studyFromHeader(&dicomio.StudyHeader{
		StudyInstanceUID: "1.2.3",
		AccessionNumber:  "ACC1",
		Modalities:       []string{"CT"},
		StudyDate:        "20240229",
		StudyDescription: "CT HEAD",
		SeriesCount:      2,
		ImageCount:       40,
	}, &lab)
	if st.StudyInstanceUID != "1.2.3" || st.ExamDescription != "CT HEAD" || st.StudyDate != "20240229" {
		t.Errorf("unexpected study: %+v", st)
	}
	if st.LabID == nil || *st.LabID != lab {
		t.Error("expected lab to be attached")
	}

	bad := studyFromHeader(&dicomio.StudyHeader{StudyInstanceUID: "1.2.4", StudyDate: "2024-02-29"}, nil)
	if bad.StudyDate != "" {
		t.Errorf("expected malformed study date to be dropped, got %q", bad.StudyDate)
	}
}

type stubIngester struct {
	results map[string]error
}

func (s *stubIngester) Ingest(_ context.Context, st *study.Study, actor string) error {
	if actor != ingestActor {
		return fmt.Errorf("unexpected actor %q", actor)
	}
	return s.results[st.StudyInstanceUID]
}

func TestIngestStudies_Counts(t *testing.T) {
	svc := &stubIngester{results: map[string]error{
		"1.2.2": fmt.Errorf("study instance uid 1.2.2: %w", study.ErrAlreadyExists),
		"1.2.3": fmt.Errorf("%w: bad input", study.ErrInvalidInput),
	}}
	headers := []*dicomio.StudyHeader{
		{StudyInstanceUID: "1.2.1"},
		{StudyInstanceUID: "1.2.2"},
		{StudyInstanceUID: "1.2.3"},
	}
	res := ingestStudies(context.Background(), svc, headers, nil, zerolog.Nop())
	if res.created != 1 || res.existing != 1 || res.failed != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}
