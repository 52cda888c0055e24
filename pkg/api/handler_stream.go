package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/querygate/querygate/pkg/events"
)

// keepAliveInterval paces SSE comment frames on idle streams.
const keepAliveInterval = 15 * time.Second

// streamHandler handles GET /queries/{id}/stream: the SSE lifecycle feed.
// Auth comes from the proxy headers or a ?token query parameter; anonymous
// access is allowed only in dev mode.
func (s *Server) streamHandler(c *echo.Context) error {
	id := c.Param("id")

	user := extractUser(c)
	if user == "" {
		user = c.QueryParam("token")
	}
	if user == "" && !s.cfg.DevMode {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	meta, err := s.bus.GetMetadata(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	}
	if !s.cfg.DevMode && user != meta["owner"] && !s.cfg.IsAdmin(extractRole(c)) {
		return echo.NewHTTPError(http.StatusForbidden, "you do not own this query")
	}

	sub, err := s.bus.Subscribe(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	}

	w := c.Response()
	events.SetSSEHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher, _ := any(w).(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case rec, ok := <-sub:
			if !ok {
				return nil
			}
			if err := events.WriteFrame(w, rec, string(rec.State)); err != nil {
				return nil
			}
			flush()
			if rec.State.Terminal() {
				return nil
			}
		case <-keepAlive.C:
			if err := events.WriteKeepAlive(w); err != nil {
				return nil
			}
			flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}
