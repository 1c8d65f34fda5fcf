package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/gotrs-io/gotrs-chat/internal/events"
)

// Envelope is the frame exchanged in both directions. Requests carry an
// id which the ack echoes back.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func encodePush(event string, payload any) ([]byte, error) {
	return encodeEnvelope(event, "", payload, "")
}

func encodeAck(id string, payload any, err error) ([]byte, error) {
	msg := ""
	if err != nil {
		msg = err.Error()
		payload = nil
	}
	return encodeEnvelope(events.Ack, id, payload, msg)
}

func encodeEnvelope(event, id string, payload any, errMsg string) ([]byte, error) {
	env := Envelope{Event: event, ID: id, Error: errMsg}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return b, nil
}
