package model

import (
	"time"
)

// TicketStatus is the status of a support ticket.
type TicketStatus string

const (
	TicketOpen      TicketStatus = "open"
	TicketPending   TicketStatus = "pending"
	TicketEscalated TicketStatus = "escalated"
	TicketResolved  TicketStatus = "resolved"
	TicketClosed    TicketStatus = "closed"
)

// TicketPriority is the routing priority of a ticket.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityNormal TicketPriority = "normal"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// Ticket is the support ticket a chat session is opened against.
type Ticket struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id"`
	ConversationID string         `json:"conversation_id"`
	Subject        string         `json:"subject"`
	Status         TicketStatus   `json:"status"`
	Priority       TicketPriority `json:"priority"`
	AssignedAgent  string         `json:"assigned_agent,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
