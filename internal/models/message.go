package models

import "time"

// SenderType identifies who wrote a message.
type SenderType string

const (
	SenderPlayer SenderType = "PLAYER"
	SenderAgent  SenderType = "AGENT"
	SenderAI     SenderType = "AI"
	SenderSystem SenderType = "SYSTEM"
)

// Message is a single chat line inside a session.
type Message struct {
	ID         string     `json:"id" db:"id"`
	SessionID  string     `json:"sessionId" db:"session_id"`
	TicketID   string     `json:"ticketId" db:"ticket_id"`
	SenderType SenderType `json:"senderType" db:"sender_type"`
	SenderID   *string    `json:"senderId,omitempty" db:"sender_id"`
	Content    string     `json:"content" db:"content"`
	Language   string     `json:"language,omitempty" db:"language"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}
