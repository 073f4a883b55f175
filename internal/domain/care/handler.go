package care

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lunysse/lunysse/internal/platform/auth"
	"github.com/lunysse/lunysse/pkg/pagination"
)

type Handler struct {
	svc   *Service
	views *ViewRegistry
	now   func() time.Time
}

func NewHandler(svc *Service, views *ViewRegistry) *Handler {
	return &Handler{svc: svc, views: views, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePractitioner))

	g.GET("/patients", h.ListPatients)

	g.GET("/requests", h.ListRequests)
	g.GET("/requests/pending", h.ListPendingRequests)
	g.POST("/requests/:id/accept", h.AcceptRequest)
	g.POST("/requests/:id/reject", h.RejectRequest)

	g.GET("/appointments", h.ListAppointments)
	g.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)

	g.GET("/dashboard", h.GetDashboard)
	g.POST("/dashboard/views", h.AttachView)
	g.GET("/dashboard/views/:id", h.GetView)
	g.POST("/dashboard/views/:id/focus", h.FocusView)
	g.DELETE("/dashboard/views/:id", h.DetachView)

	g.GET("/reports", h.GetReport)
}

// httpError translates care errors into HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrDuplicatePatient),
		errors.Is(err, ErrStaleRequestState),
		errors.Is(err, ErrRequestInProgress),
		errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrRequestNotFound),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrViewNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidPatient):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func practitioner(c echo.Context) (uuid.UUID, error) {
	pid, err := auth.PractitionerIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return pid, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, err := h.svc.ListPatients(c.Request().Context(), pid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Paginate(items, pg))
}

// -- Requests --

func (h *Handler) ListRequests(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	status := RequestStatus(c.QueryParam("status"))
	items, err := h.svc.ListRequests(c.Request().Context(), pid, status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Paginate(items, pagination.FromContext(c)))
}

func (h *Handler) ListPendingRequests(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	items, err := h.svc.PendingRequests(c.Request().Context(), pid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AcceptRequest(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	patient, err := h.svc.Accept(c.Request().Context(), pid, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, patient)
}

func (h *Handler) RejectRequest(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.Reject(c.Request().Context(), pid, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

// -- Appointments --

func (h *Handler) ListAppointments(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAppointments(c.Request().Context(), pid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Paginate(items, pagination.FromContext(c)))
}

type statusUpdate struct {
	Status AppointmentStatus `json:"status"`
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body statusUpdate
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	appt, err := h.svc.AdvanceAppointment(c.Request().Context(), pid, id, body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// -- Dashboard --

func (h *Handler) GetDashboard(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Dashboard(c.Request().Context(), pid, strings.TrimSpace(c.QueryParam("q")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type viewResponse struct {
	*View
	Loaded     bool       `json:"loaded"`
	Generation uint64     `json:"generation"`
	Dashboard  *Dashboard `json:"dashboard,omitempty"`
}

func (h *Handler) AttachView(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	v := h.views.Attach(pid)
	return c.JSON(http.StatusCreated, viewResponse{View: v, Loaded: v.Loaded()})
}

// ownedView returns the view if it belongs to the caller. Views owned by
// another practitioner are reported as not found.
func (h *Handler) ownedView(c echo.Context) (*View, error) {
	pid, err := practitioner(c)
	if err != nil {
		return nil, err
	}
	id, err := pathID(c)
	if err != nil {
		return nil, err
	}
	v, err := h.views.Get(id)
	if err != nil || v.PractitionerID != pid {
		return nil, httpError(ErrViewNotFound)
	}
	return v, nil
}

func (h *Handler) GetView(c echo.Context) error {
	v, err := h.ownedView(c)
	if err != nil {
		return err
	}
	resp := viewResponse{View: v}
	_, resp.Generation = v.Snapshot()
	if resp.Loaded = v.Loaded(); resp.Loaded {
		d := v.Dashboard(h.now(), strings.TrimSpace(c.QueryParam("q")))
		resp.Dashboard = &d
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) FocusView(c echo.Context) error {
	v, err := h.ownedView(c)
	if err != nil {
		return err
	}
	v.Focus()
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) DetachView(c echo.Context) error {
	v, err := h.ownedView(c)
	if err != nil {
		return err
	}
	if err := h.views.Detach(v.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Reports --

func (h *Handler) GetReport(c echo.Context) error {
	pid, err := practitioner(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Report(c.Request().Context(), pid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}
