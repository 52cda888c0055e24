package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractUser returns the caller identity from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "" (anonymous).
func extractUser(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return ""
}

// extractRole returns the caller's role from the proxy header, defaulting to
// viewer.
func extractRole(c *echo.Context) string {
	if role := c.Request().Header.Get("X-User-Role"); role != "" {
		return role
	}
	return "viewer"
}

// mayAccess reports whether the caller can read a ticket: the owner, an
// admin, or anyone in dev mode.
func (s *Server) mayAccess(c *echo.Context, owner string) bool {
	if s.cfg.DevMode {
		return true
	}
	user := extractUser(c)
	if user == "" {
		return false
	}
	return user == owner || s.cfg.IsAdmin(extractRole(c))
}
