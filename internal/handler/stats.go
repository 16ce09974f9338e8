package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/service"
)

// StatsHandler serves read-only rollups.  Responses are computed per
// request and never cached.
type StatsHandler struct {
	Svc *service.StatsService
}

// NewStatsHandler panics when svc is nil.
func NewStatsHandler(svc *service.StatsService) *StatsHandler {
	if svc == nil {
		panic("nil service passed to NewStatsHandler")
	}
	return &StatsHandler{Svc: svc}
}

// Session handles GET /v1/sessions/:id/stats.
func (h *StatsHandler) Session(c echo.Context) error {
	st, err := h.Svc.SessionStats(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Feedback handles GET /v1/stats/feedback?request_id=.  Without a request id
// the rollup spans every request.
func (h *StatsHandler) Feedback(c echo.Context) error {
	st, err := h.Svc.FeedbackStats(c.Request().Context(), strings.TrimSpace(c.QueryParam("request_id")))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}
