package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/service"
)

// LocationHandler serves the location catalogue.  Purge drops cached public
// reads after every successful write.
type LocationHandler struct {
	Svc   *service.LocationService
	Purge func(context.Context)
}

// NewLocationHandler panics when svc is nil.  A nil purge is a no-op.
func NewLocationHandler(svc *service.LocationService, purge func(context.Context)) *LocationHandler {
	if svc == nil {
		panic("nil service passed to NewLocationHandler")
	}
	if purge == nil {
		purge = func(context.Context) {}
	}
	return &LocationHandler{Svc: svc, Purge: purge}
}

// Create handles POST /v1/locations.
func (h *LocationHandler) Create(c echo.Context) error {
	var in service.LocationInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	l, err := h.Svc.CreateLocation(c.Request().Context(), in)
	if err != nil {
		return fail(c, err)
	}
	h.Purge(c.Request().Context())
	return c.JSON(http.StatusCreated, l)
}

// Update handles PUT /v1/locations/:id.
func (h *LocationHandler) Update(c echo.Context) error {
	var in service.LocationInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	l, err := h.Svc.UpdateLocation(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return fail(c, err)
	}
	h.Purge(c.Request().Context())
	return c.JSON(http.StatusOK, l)
}

// Delete handles DELETE /v1/locations/:id.
func (h *LocationHandler) Delete(c echo.Context) error {
	if err := h.Svc.DeleteLocation(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	h.Purge(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /v1/locations/:id.
func (h *LocationHandler) Get(c echo.Context) error {
	l, err := h.Svc.GetLocation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

// List handles GET /v1/locations?status=.
func (h *LocationHandler) List(c echo.Context) error {
	ls, err := h.Svc.ListLocations(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": ls})
}
