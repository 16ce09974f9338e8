package router // package router wires handlers and middleware onto echo routes

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/authz"
	"github.com/iliyamo/playtest-sessions/internal/handler"
	"github.com/iliyamo/playtest-sessions/internal/middleware"
)

// Handlers bundles every domain handler the API mounts.
type Handlers struct {
	Locations     *handler.LocationHandler
	Sessions      *handler.SessionHandler
	Registrations *handler.RegistrationHandler
	Requests      *handler.RequestHandler
	Feedback      *handler.FeedbackHandler
	Stats         *handler.StatsHandler
}

// RegisterRoutes registers the unauthenticated probes.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterPublic registers read-only routes that need no token.  cache is
// mounted on the location catalogue only; session, roster and statistics
// reads always hit the database.
func RegisterPublic(e *echo.Echo, h Handlers, cache echo.MiddlewareFunc) {
	e.GET("/v1/locations", h.Locations.List, cache)
	e.GET("/v1/locations/:id", h.Locations.Get, cache)

	e.GET("/v1/sessions", h.Sessions.List)
	e.GET("/v1/sessions/:id", h.Sessions.Get)
	e.GET("/v1/sessions/:id/stats", h.Stats.Session)

	e.GET("/v1/requests", h.Requests.List)
	e.GET("/v1/requests/:id", h.Requests.Get)
	e.GET("/v1/requests/:id/feedback", h.Feedback.ListPublic)

	e.GET("/v1/stats/feedback", h.Stats.Feedback)
}

// RegisterProtected registers every route that requires a bearer token.
// Tokens with an unknown role are rejected before the policy check.
func RegisterProtected(e *echo.Echo, h Handlers, jwtSecret string, enf *authz.Enforcer) {
	g := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(
			authz.RoleAdmin, authz.RoleManager, authz.RoleModerator,
			authz.RoleDeveloper, authz.RoleTester, authz.RoleObserver,
		),
		middleware.Authorize(enf),
	)

	g.POST("/locations", h.Locations.Create)
	g.PUT("/locations/:id", h.Locations.Update)
	g.DELETE("/locations/:id", h.Locations.Delete)

	g.POST("/sessions", h.Sessions.Create)
	g.POST("/sessions/advance", h.Sessions.Advance)
	g.POST("/sessions/:id/status", h.Sessions.Transition)

	g.POST("/sessions/:id/join", h.Registrations.Join)
	g.POST("/sessions/:id/leave", h.Registrations.Leave)
	g.POST("/sessions/:id/confirm", h.Registrations.Confirm)
	g.POST("/sessions/:id/reject", h.Registrations.Reject)
	g.POST("/sessions/:id/attendance", h.Registrations.Attendance)
	g.GET("/sessions/:id/registrations", h.Registrations.List)
	g.GET("/me/registrations", h.Registrations.Mine)

	g.POST("/requests", h.Requests.Create)
	g.POST("/requests/:id/status", h.Requests.Transition)
	g.POST("/requests/:id/join", h.Requests.Join)
	g.POST("/requests/:id/leave", h.Requests.Leave)

	g.POST("/feedback", h.Feedback.Submit)
	g.GET("/feedback/:id", h.Feedback.Get)
	g.POST("/feedback/:id/moderate", h.Feedback.Moderate)
	g.POST("/feedback/:id/response", h.Feedback.Respond)
	g.GET("/moderation/feedback", h.Feedback.ListForModeration)
}
