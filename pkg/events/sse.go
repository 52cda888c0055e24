package events

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SetSSEHeaders prepares a response for server-sent events.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteFrame emits one SSE frame: an event line naming the state, a data
// line with the JSON record, and a blank-line terminator.
func WriteFrame(w io.Writer, rec any, event string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// WriteKeepAlive emits an SSE comment frame that keeps idle connections
// open through proxies.
func WriteKeepAlive(w io.Writer) error {
	_, err := io.WriteString(w, ": keep-alive\n\n")
	return err
}
