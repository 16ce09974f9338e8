package middleware

import "github.com/labstack/echo/v4"

// ParticipantID returns the authenticated caller's id, or "" on public routes.
func ParticipantID(c echo.Context) string {
	if s, ok := c.Get(ParticipantKey).(string); ok {
		return s
	}
	return ""
}

// Role returns the authenticated caller's role claim, or "".
func Role(c echo.Context) string {
	if s, ok := c.Get(RoleKey).(string); ok {
		return s
	}
	return ""
}

// userID identifies the caller for rate-limit keys.
func userID(c echo.Context) string {
	if id := ParticipantID(c); id != "" {
		return id
	}
	return "guest"
}
