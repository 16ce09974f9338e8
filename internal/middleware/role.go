package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/authz"
)

// Authorize rejects requests whose role may not call the matched route.  It
// must run after JWTAuth so the role is already in the context.  Checks use
// the route template (c.Path()), not the concrete URL.
func Authorize(enf *authz.Enforcer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := Role(c)
			ok, err := enf.Allowed(role, c.Path(), c.Request().Method)
			if err != nil {
				slog.Error("authorization check failed", "err", err, "path", c.Path())
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "authorization unavailable"})
			}
			if !ok {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// RequireRole admits only the listed roles.  It is used where a route is
// guarded by role alone, independent of the policy table.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
