package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/middleware"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/repository"
	"github.com/iliyamo/playtest-sessions/internal/service"
)

const maxPageSize = 200

// SessionHandler serves session scheduling and lifecycle routes.
type SessionHandler struct {
	Svc *service.SessionService
}

// NewSessionHandler panics when svc is nil.
func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	if svc == nil {
		panic("nil service passed to NewSessionHandler")
	}
	return &SessionHandler{Svc: svc}
}

// Create handles POST /v1/sessions.  The manager defaults to the caller.
func (h *SessionHandler) Create(c echo.Context) error {
	var in service.CreateSessionInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(in.ManagerID) == "" {
		in.ManagerID = middleware.ParticipantID(c)
	}
	v, err := h.Svc.CreateSession(c.Request().Context(), in)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

// Get handles GET /v1/sessions/:id.
func (h *SessionHandler) Get(c echo.Context) error {
	v, err := h.Svc.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// List handles GET /v1/sessions with optional status, location_id,
// manager_id, from, to (YYYY-MM-DD), limit and offset filters.
func (h *SessionHandler) List(c echo.Context) error {
	f := repository.SessionFilter{
		LocationID: strings.TrimSpace(c.QueryParam("location_id")),
		ManagerID:  strings.TrimSpace(c.QueryParam("manager_id")),
	}
	if v := c.QueryParam("status"); v != "" {
		st, ok := model.ParseSessionStatus(v)
		if !ok {
			return badRequest(c, "invalid status")
		}
		f.Status = st
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := strings.TrimSpace(c.QueryParam(name)); v != "" {
			d, err := time.Parse(time.DateOnly, v)
			if err != nil {
				return badRequest(c, "invalid "+name+" date, want YYYY-MM-DD")
			}
			*dst = d
		}
	}
	if !f.To.IsZero() {
		f.To = f.To.Add(24 * time.Hour)
	}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit", 50); !ok || f.Limit > maxPageSize {
		return badRequest(c, "invalid limit")
	}
	if f.Offset, ok = queryInt(c, "offset", 0); !ok {
		return badRequest(c, "invalid offset")
	}
	vs, err := h.Svc.ListSessions(c.Request().Context(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": vs, "limit": f.Limit, "offset": f.Offset})
}

// Transition handles POST /v1/sessions/:id/status with {"status": "..."}.
func (h *SessionHandler) Transition(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	target, ok := model.ParseSessionStatus(body.Status)
	if !ok {
		return badRequest(c, "invalid status")
	}
	s, err := h.Svc.TransitionSession(c.Request().Context(), c.Param("id"), target, middleware.ParticipantID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Advance handles POST /v1/sessions/advance.
func (h *SessionHandler) Advance(c echo.Context) error {
	activated, completed, err := h.Svc.AdvanceDue(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	if activated == nil {
		activated = []string{}
	}
	if completed == nil {
		completed = []string{}
	}
	return c.JSON(http.StatusOK, echo.Map{"activated": activated, "completed": completed})
}
