package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Server-sent event names pushed to dashboard clients.
const (
	EventSecurityEvent  = "security-event"
	EventSecurityUpdate = "security-events-update"
	EventHeartbeat      = "heartbeat"
	EventHostsUpdate    = "hosts-update"
	EventVMsUpdate      = "vms-update"
	EventHostUpdate     = "host-update"
	EventVMUpdate       = "vm-update"
)

// encodeFrame renders one SSE frame: an event line, a single data line with
// the JSON payload, and a blank line terminator.
func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", event, data)
	return buf.Bytes(), nil
}
