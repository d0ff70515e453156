package agui

import (
	"encoding/json"
	"fmt"
	"io"
)

// ContentTypeSSE is the media type of an event stream response.
const ContentTypeSSE = "text/event-stream"

// WriteSSE writes ev as a single server-sent event frame.
func WriteSSE(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	return nil
}
