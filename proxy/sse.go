package proxy

import (
	"encoding/json"
	"fmt"
	"io"

	"chat-relay/types"
)

// writeEvent writes one outbound event as "event: <name>\ndata: <json>\n\n".
// The end event has an empty data line.
func writeEvent(w io.Writer, ev types.OutboundEvent) error {
	data := []byte{}
	if ev.Payload != nil {
		var err error
		if data, err = json.Marshal(ev.Payload); err != nil {
			return fmt.Errorf("encoding %s event: %w", ev.Name, err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return fmt.Errorf("writing %s event: %w", ev.Name, err)
	}
	return nil
}
