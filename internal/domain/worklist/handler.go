package worklist

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/studyflow/studyflow/internal/platform/auth"
	"github.com/studyflow/studyflow/pkg/pagination"
)

type Handler struct {
	svc      *Service
	exporter *Exporter
	logger   zerolog.Logger
}

// NewHandler wires the worklist routes. exporter may be nil when object
// storage is not configured; POST /worklist/exports then answers 501.
func NewHandler(svc *Service, exporter *Exporter, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, exporter: exporter, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole("coordinator"))
	staff.GET("/worklist", h.ListWorklist)
	staff.GET("/worklist/export.csv", h.ExportCSV)
	staff.POST("/worklist/exports", h.CreateExport)

	api.GET("/doctors/:id/worklist", h.DoctorWorklist, auth.RequireRole("coordinator", "radiologist"))
}

type pageResponse struct {
	*pagination.Response
	Summary Summary `json:"summary"`
}

func (h *Handler) ListWorklist(c echo.Context) error {
	f, err := ParseFilter(c, h.svc.Now())
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, f)
}

// DoctorWorklist is the worklist narrowed to one doctor's assignments. A
// radiologist may only read their own.
func (h *Handler) DoctorWorklist(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	ctx := c.Request().Context()
	if !auth.HasRole(auth.RolesFromContext(ctx), "coordinator") && auth.DoctorIDFromContext(ctx) != id.String() {
		return echo.NewHTTPError(http.StatusForbidden, "radiologists may only view their own worklist")
	}

	f, err := ParseFilter(c, h.svc.Now())
	if err != nil {
		return httpError(err)
	}
	f.DoctorID = &id
	return h.respond(c, f)
}

func (h *Handler) respond(c echo.Context, f Filter) error {
	p := pagination.FromContext(c)
	res, err := h.svc.Query(c.Request().Context(), f, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pageResponse{
		Response: pagination.NewResponse(res.Items, res.Total, res.Page),
		Summary:  res.Summary,
	})
}

// ExportCSV streams the filtered set as CSV. Once the first byte is sent,
// failures can only be logged.
func (h *Handler) ExportCSV(c echo.Context) error {
	f, err := ParseFilter(c, h.svc.Now())
	if err != nil {
		return httpError(err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	resp.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="worklist-%s.csv"`, f.Key()))
	resp.WriteHeader(http.StatusOK)

	rows, err := h.svc.ExportCSV(c.Request().Context(), f, resp)
	if err != nil {
		h.logger.Error().Err(err).Int64("rows", rows).Str("filter_key", f.Key()).Msg("csv export aborted")
	}
	return nil
}

func (h *Handler) CreateExport(c echo.Context) error {
	if h.exporter == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "exports to object storage are not configured")
	}
	f, err := ParseFilter(c, h.svc.Now())
	if err != nil {
		return httpError(err)
	}
	res, err := h.exporter.Export(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidFilter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrExportInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
