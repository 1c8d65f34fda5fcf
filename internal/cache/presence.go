package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConnectionRecord is the mirror of a live socket kept under ConnectionKey
// so a restarted process can see who was connected.
type ConnectionRecord struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	StaffID     string    `json:"staffId,omitempty"`
	TicketID    string    `json:"ticketId,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Encode serializes the record.
func (r ConnectionRecord) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode connection %s: %w", r.ID, err)
	}
	return string(b), nil
}

// DecodeConnection parses a mirrored connection.
func DecodeConnection(raw string) (ConnectionRecord, error) {
	var r ConnectionRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("failed to decode connection record: %w", err)
	}
	return r, nil
}
