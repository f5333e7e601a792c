package study

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/studyflow/studyflow/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("coordinator", "radiologist"))
	read.GET("/studies/:id", h.GetStudy)
	read.GET("/studies/:id/history", h.GetHistory)
	read.GET("/studies/:id/tat", h.GetTAT)

	staff := api.Group("", auth.RequireRole("coordinator"))
	staff.POST("/studies", h.IngestStudy)
	staff.POST("/studies/:id/transitions", h.TransitionStudy)
	staff.POST("/studies/:id/assignment", h.AssignStudy)

	doctor := api.Group("", auth.RequireRole("radiologist"))
	doctor.POST("/studies/:id/report/start", h.StartReport)
	doctor.POST("/studies/:id/report/finalize", h.FinalizeReport)
}

type ingestRequest struct {
	StudyInstanceUID string     `json:"study_instance_uid"`
	AccessionNumber  string     `json:"accession_number"`
	PatientID        *uuid.UUID `json:"patient_id"`
	LabID            *uuid.UUID `json:"lab_id"`
	Modalities       []string   `json:"modalities"`
	SeriesCount      int        `json:"series_count"`
	ImageCount       int        `json:"image_count"`
	StudyDate        string     `json:"study_date"`
	ExamDescription  string     `json:"exam_description"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type assignRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Priority string    `json:"priority"`
}

type finalizeRequest struct {
	Content string `json:"content"`
}

func (h *Handler) IngestStudy(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st := &Study{
		StudyInstanceUID: req.StudyInstanceUID,
		AccessionNumber:  req.AccessionNumber,
		PatientID:        req.PatientID,
		LabID:            req.LabID,
		Modalities:       req.Modalities,
		SeriesCount:      req.SeriesCount,
		ImageCount:       req.ImageCount,
		StudyDate:        req.StudyDate,
		ExamDescription:  req.ExamDescription,
	}
	if err := h.svc.Ingest(c.Request().Context(), st, actor(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStudy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	st, err := h.svc.GetStudy(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entries, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetTAT(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	tat, err := h.svc.TAT(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tat.View())
}

func (h *Handler) TransitionStudy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target, err := ParseStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.Transition(c.Request().Context(), id, target, actor(c), req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) AssignStudy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.Assign(c.Request().Context(), id, req.DoctorID, priority, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) StartReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doctorID, err := actingDoctor(c)
	if err != nil {
		return err
	}
	st, err := h.svc.StartReport(c.Request().Context(), id, doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) FinalizeReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doctorID, err := actingDoctor(c)
	if err != nil {
		return err
	}
	var req finalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.FinalizeReport(c.Request().Context(), id, doctorID, req.Content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func actingDoctor(c echo.Context) (uuid.UUID, error) {
	raw := auth.DoctorIDFromContext(c.Request().Context())
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "caller is not linked to a doctor")
	}
	return id, nil
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	var te *TransitionError
	switch {
	case errors.As(err, &te):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{
			"error":            err.Error(),
			"current_status":   string(te.From),
			"attempted_status": string(te.To),
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotAssignedToCaller):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownStatus), errors.Is(err, ErrNoteRequired), errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
