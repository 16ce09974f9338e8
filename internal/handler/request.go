package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/authz"
	"github.com/iliyamo/playtest-sessions/internal/middleware"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/repository"
	"github.com/iliyamo/playtest-sessions/internal/service"
)

// RequestHandler serves testing requests and their tester rosters.
type RequestHandler struct {
	Svc *service.RequestService
}

// NewRequestHandler panics when svc is nil.
func NewRequestHandler(svc *service.RequestService) *RequestHandler {
	if svc == nil {
		panic("nil service passed to NewRequestHandler")
	}
	return &RequestHandler{Svc: svc}
}

// Create handles POST /v1/requests.  The caller becomes the owner.
func (h *RequestHandler) Create(c echo.Context) error {
	pid := middleware.ParticipantID(c)
	if pid == "" {
		return unauthorized(c)
	}
	var in service.CreateRequestInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	in.OwnerID = pid
	t, err := h.Svc.CreateRequest(c.Request().Context(), in)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// Transition handles POST /v1/requests/:id/status.  Only the owner, or an
// admin, may move a request through its lifecycle.
func (h *RequestHandler) Transition(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	target, ok := model.ParseRequestStatus(body.Status)
	if !ok {
		return badRequest(c, "invalid status")
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	current, err := h.Svc.GetRequest(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	if current.OwnerID != middleware.ParticipantID(c) && middleware.Role(c) != authz.RoleAdmin {
		return fail(c, service.ErrForbidden)
	}
	t, err := h.Svc.TransitionRequest(ctx, id, target)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Join handles POST /v1/requests/:id/join.
func (h *RequestHandler) Join(c echo.Context) error {
	pid := middleware.ParticipantID(c)
	if pid == "" {
		return unauthorized(c)
	}
	t, err := h.Svc.JoinRequest(c.Request().Context(), c.Param("id"), pid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Leave handles POST /v1/requests/:id/leave.
func (h *RequestHandler) Leave(c echo.Context) error {
	pid := middleware.ParticipantID(c)
	if pid == "" {
		return unauthorized(c)
	}
	t, err := h.Svc.LeaveRequest(c.Request().Context(), c.Param("id"), pid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Get handles GET /v1/requests/:id.
func (h *RequestHandler) Get(c echo.Context) error {
	t, err := h.Svc.GetRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// List handles GET /v1/requests?status=&owner_id=&project_id=.
func (h *RequestHandler) List(c echo.Context) error {
	f := repository.RequestFilter{
		OwnerID:   strings.TrimSpace(c.QueryParam("owner_id")),
		ProjectID: strings.TrimSpace(c.QueryParam("project_id")),
	}
	if v := c.QueryParam("status"); v != "" {
		st, ok := model.ParseRequestStatus(v)
		if !ok {
			return badRequest(c, "invalid status")
		}
		f.Status = st
	}
	ts, err := h.Svc.ListRequests(c.Request().Context(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": ts})
}
