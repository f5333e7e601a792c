package study

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/studyflow/studyflow/internal/platform/auth"
)

type caller struct {
	roles    []string
	doctorID string
}

var coordinator = caller{roles: []string{"coordinator"}}

func serve(t *testing.T, env *testEnv, who caller, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), "user-1", who.roles, who.doctorID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(env.svc).RegisterRoutes(api)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_IngestCreated(t *testing.T) {
	env := newTestEnv()
	rec := serve(t, env, coordinator, http.MethodPost, "/api/v1/studies",
		`{"study_instance_uid":"1.2.3.4","modalities":["MR"],"study_date":"20240105"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Study
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.WorkflowStatus != StatusNewStudyReceived || got.ID == uuid.Nil {
		t.Errorf("unexpected study: %+v", got)
	}
}

func TestHandler_IngestDuplicate(t *testing.T) {
	env := newTestEnv()
	body := `{"study_instance_uid":"1.2.3.4"}`
	serve(t, env, coordinator, http.MethodPost, "/api/v1/studies", body)
	rec := serve(t, env, coordinator, http.MethodPost, "/api/v1/studies", body)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_IngestValidation(t *testing.T) {
	env := newTestEnv()
	rec := serve(t, env, coordinator, http.MethodPost, "/api/v1/studies", `{"study_instance_uid":" "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_IngestOverlongAccession(t *testing.T) {
	env := newTestEnv()
	body := `{"study_instance_uid":"1.2.3","accession_number":"` + strings.Repeat("A", 65) + `"}`
	rec := serve(t, env, coordinator, http.MethodPost, "/api/v1/studies", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_IngestRequiresCoordinator(t *testing.T) {
	env := newTestEnv()
	rec := serve(t, env, caller{roles: []string{"radiologist"}}, http.MethodPost, "/api/v1/studies",
		`{"study_instance_uid":"1.2.3.4"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_GetStudyNotFound(t *testing.T) {
	env := newTestEnv()
	rec := serve(t, env, coordinator, http.MethodGet, "/api/v1/studies/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_GetStudyBadID(t *testing.T) {
	env := newTestEnv()
	rec := serve(t, env, coordinator, http.MethodGet, "/api/v1/studies/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_InvalidTransition(t *testing.T) {
	env := newTestEnv()
	st := env.ingest(t)
	rec := serve(t, env, coordinator, http.MethodPost, "/api/v1/studies/"+st.ID.String()+"/transitions",
		`{"status":"report_finalized"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["current_status"] != string(StatusNewStudyReceived) || body["attempted_status"] != string(StatusReportFinalized) {
		t.Errorf("expected current_status in body, got %v", body)
	}
}

func TestHandler_UnknownStatus(t *testing.T) {
	env := newTestEnv()
	st := env.ingest(t)
	rec := serve(t, env, coordinator, http.MethodPost, "/api/v1/studies/"+st.ID.String()+"/transitions",
		`{"status":"done"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_AssignAndHistory(t *testing.T) {
	env := newTestEnv()
	st := env.pending(t)
	doc := env.dir.addDoctor("Dr. Iyer")
	rec := serve(t, env, coordinator, http.MethodPost, "/api/v1/studies/"+st.ID.String()+"/assignment",
		`{"doctor_id":"`+doc.String()+`","priority":"stat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, env, coordinator, http.MethodGet, "/api/v1/studies/"+st.ID.String()+"/history", "")
	var entries []StatusEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 3 || entries[2].Status != StatusAssignedToDoctor {
		t.Errorf("unexpected history: %+v", entries)
	}
}

func TestHandler_AssignMissingDoctor(t *testing.T) {
	env := newTestEnv()
	st := env.pending(t)
	rec := serve(t, env, coordinator, http.MethodPost, "/api/v1/studies/"+st.ID.String()+"/assignment", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_StartReportWrongDoctor(t *testing.T) {
	env := newTestEnv()
	st, _ := env.assigned(t)
	other := caller{roles: []string{"radiologist"}, doctorID: uuid.NewString()}
	rec := serve(t, env, other, http.MethodPost, "/api/v1/studies/"+st.ID.String()+"/report/start", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_StartReportUnlinkedCaller(t *testing.T) {
	env := newTestEnv()
	st, _ := env.assigned(t)
	rec := serve(t, env, caller{roles: []string{"radiologist"}}, http.MethodPost,
		"/api/v1/studies/"+st.ID.String()+"/report/start", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_ReportFlow(t *testing.T) {
	env := newTestEnv()
	st, doc := env.assigned(t)
	me := caller{roles: []string{"radiologist"}, doctorID: doc.String()}
	base := "/api/v1/studies/" + st.ID.String()

	if rec := serve(t, env, me, http.MethodPost, base+"/report/start", ""); rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := serve(t, env, me, http.MethodPost, base+"/report/finalize", `{"content":"No acute findings."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := env.svc.GetStudy(context.Background(), st.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WorkflowStatus != StatusReportFinalized || got.ReportInfo.Content != "No acute findings." {
		t.Errorf("unexpected study after finalize: %+v", got)
	}

	rec = serve(t, env, me, http.MethodGet, base+"/tat", "")
	if rec.Code != http.StatusOK {
		t.Errorf("tat: expected 200, got %d", rec.Code)
	}
}

func TestHandler_FinalizeEmptyContent(t *testing.T) {
	env := newTestEnv()
	st, doc := env.assigned(t)
	me := caller{roles: []string{"radiologist"}, doctorID: doc.String()}
	rec := serve(t, env, me, http.MethodPost, "/api/v1/studies/"+st.ID.String()+"/report/finalize", `{"content":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
