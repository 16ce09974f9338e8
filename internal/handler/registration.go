package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/authz"
	"github.com/iliyamo/playtest-sessions/internal/middleware"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/service"
)

// RegistrationHandler serves joins, leaves and the manager's decisions on a
// session's roster.  Participants act as themselves: the participant id
// always comes from the token, never from the body.
type RegistrationHandler struct {
	Svc *service.RegistrationService
}

// NewRegistrationHandler panics when svc is nil.
func NewRegistrationHandler(svc *service.RegistrationService) *RegistrationHandler {
	if svc == nil {
		panic("nil service passed to NewRegistrationHandler")
	}
	return &RegistrationHandler{Svc: svc}
}

// Join handles POST /v1/sessions/:id/join.  The slot role is the caller's
// token role; a body {"role": ...} may only restate it.  Admins hold no
// registration role of their own and must name one.
func (h *RegistrationHandler) Join(c echo.Context) error {
	pid := middleware.ParticipantID(c)
	if pid == "" {
		return unauthorized(c)
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	requested := strings.TrimSpace(body.Role)
	tokenRole := middleware.Role(c)

	var role model.Role
	if tokenRole == authz.RoleAdmin {
		r, ok := model.ParseRole(requested)
		if !ok {
			return badRequest(c, "role must be TESTER, DEVELOPER or OBSERVER")
		}
		role = r
	} else {
		r, ok := model.ParseRole(tokenRole)
		if !ok {
			return fail(c, service.ErrForbidden)
		}
		if requested != "" {
			if asked, ok := model.ParseRole(requested); !ok || asked != r {
				return fail(c, fmt.Errorf("%w: token role %s cannot register as %q", service.ErrForbidden, r, requested))
			}
		}
		role = r
	}
	reg, err := h.Svc.Join(c.Request().Context(), c.Param("id"), pid, role)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, reg)
}

// Leave handles POST /v1/sessions/:id/leave.
func (h *RegistrationHandler) Leave(c echo.Context) error {
	pid := middleware.ParticipantID(c)
	if pid == "" {
		return unauthorized(c)
	}
	reg, err := h.Svc.Leave(c.Request().Context(), c.Param("id"), pid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, reg)
}

type decisionBody struct {
	ParticipantID string `json:"participant_id"`
	Attended      *bool  `json:"attended,omitempty"`
}

func bindDecision(c echo.Context) (decisionBody, bool) {
	var body decisionBody
	if err := c.Bind(&body); err != nil {
		return body, false
	}
	body.ParticipantID = strings.TrimSpace(body.ParticipantID)
	return body, body.ParticipantID != ""
}

// Confirm handles POST /v1/sessions/:id/confirm with {"participant_id": "..."}.
func (h *RegistrationHandler) Confirm(c echo.Context) error {
	body, ok := bindDecision(c)
	if !ok {
		return badRequest(c, "participant_id is required")
	}
	reg, err := h.Svc.Confirm(c.Request().Context(), c.Param("id"), body.ParticipantID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, reg)
}

// Reject handles POST /v1/sessions/:id/reject with {"participant_id": "..."}.
func (h *RegistrationHandler) Reject(c echo.Context) error {
	body, ok := bindDecision(c)
	if !ok {
		return badRequest(c, "participant_id is required")
	}
	reg, err := h.Svc.Reject(c.Request().Context(), c.Param("id"), body.ParticipantID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, reg)
}

// Attendance handles POST /v1/sessions/:id/attendance with
// {"participant_id": "...", "attended": true}.
func (h *RegistrationHandler) Attendance(c echo.Context) error {
	body, ok := bindDecision(c)
	if !ok {
		return badRequest(c, "participant_id is required")
	}
	if body.Attended == nil {
		return badRequest(c, "attended is required")
	}
	reg, err := h.Svc.MarkAttendance(c.Request().Context(), c.Param("id"), body.ParticipantID, *body.Attended)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, reg)
}

// List handles GET /v1/sessions/:id/registrations.
func (h *RegistrationHandler) List(c echo.Context) error {
	regs, err := h.Svc.ListRegistrations(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": regs})
}

// Mine handles GET /v1/me/registrations.
func (h *RegistrationHandler) Mine(c echo.Context) error {
	pid := middleware.ParticipantID(c)
	if pid == "" {
		return unauthorized(c)
	}
	regs, err := h.Svc.ParticipantRegistrations(c.Request().Context(), pid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": regs})
}
