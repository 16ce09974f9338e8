package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/middleware"
	"github.com/iliyamo/playtest-sessions/internal/model"
	"github.com/iliyamo/playtest-sessions/internal/service"
)

// FeedbackHandler serves submission, moderation and developer replies.
type FeedbackHandler struct {
	Svc *service.FeedbackService
}

// NewFeedbackHandler panics when svc is nil.
func NewFeedbackHandler(svc *service.FeedbackService) *FeedbackHandler {
	if svc == nil {
		panic("nil service passed to NewFeedbackHandler")
	}
	return &FeedbackHandler{Svc: svc}
}

// Submit handles POST /v1/feedback.  The submitter is the caller.
func (h *FeedbackHandler) Submit(c echo.Context) error {
	pid := middleware.ParticipantID(c)
	if pid == "" {
		return unauthorized(c)
	}
	var in service.SubmitFeedbackInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	in.SubmitterID = pid
	f, err := h.Svc.SubmitFeedback(c.Request().Context(), in)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, f)
}

// Moderate handles POST /v1/feedback/:id/moderate with
// {"status": "APPROVED", "quality_rating": "POSITIVE"}.
func (h *FeedbackHandler) Moderate(c echo.Context) error {
	var body struct {
		Status        string `json:"status"`
		QualityRating string `json:"quality_rating"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	target, ok := model.ParseReviewStatus(body.Status)
	if !ok {
		return badRequest(c, "invalid status")
	}
	var quality *model.QualityRating
	if strings.TrimSpace(body.QualityRating) != "" {
		q, ok := model.ParseQualityRating(body.QualityRating)
		if !ok {
			return badRequest(c, "invalid quality_rating")
		}
		quality = &q
	}
	f, err := h.Svc.ModerateFeedback(c.Request().Context(), c.Param("id"), target, quality, middleware.ParticipantID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// Respond handles POST /v1/feedback/:id/response with {"response": "..."}.
func (h *FeedbackHandler) Respond(c echo.Context) error {
	pid := middleware.ParticipantID(c)
	if pid == "" {
		return unauthorized(c)
	}
	var body struct {
		Response string `json:"response"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	f, err := h.Svc.RespondToFeedback(c.Request().Context(), c.Param("id"), pid, body.Response)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// Get handles GET /v1/feedback/:id for moderators.
func (h *FeedbackHandler) Get(c echo.Context) error {
	f, err := h.Svc.GetFeedback(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// ListPublic handles GET /v1/requests/:id/feedback.  Only APPROVED items are
// ever visible here.
func (h *FeedbackHandler) ListPublic(c echo.Context) error {
	fs, err := h.Svc.ListFeedback(c.Request().Context(), c.Param("id"), string(model.ReviewApproved))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": fs})
}

// ListForModeration handles GET /v1/moderation/feedback?request_id=&status=.
func (h *FeedbackHandler) ListForModeration(c echo.Context) error {
	requestID := strings.TrimSpace(c.QueryParam("request_id"))
	if requestID == "" {
		return badRequest(c, "request_id is required")
	}
	fs, err := h.Svc.ListFeedback(c.Request().Context(), requestID, c.QueryParam("status"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": fs})
}
