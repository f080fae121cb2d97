package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/nimbus/pkg/events"
	"github.com/labstack/echo/v4"
)

const keepAliveInterval = 15 * time.Second

func matches(e *events.Event, resourceID, typePrefix string) bool {
	if resourceID != "" && e.ResourceID != resourceID {
		return false
	}
	return strings.HasPrefix(string(e.Type), typePrefix)
}

// streamEvents sends engine events as server-sent events. The stream can be
// narrowed with ?resource=<id> and ?type=<prefix> (for example "action.").
func (s *Server) streamEvents(c echo.Context) error {
	if s.broker == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event stream is disabled")
	}
	resourceID := c.QueryParam("resource")
	typePrefix := c.QueryParam("type")

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case e, ok := <-sub:
			if !ok {
				return nil
			}
			if !matches(e, resourceID, typePrefix) {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Warn().Err(err).Str("event_id", e.ID).Msg("Failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
