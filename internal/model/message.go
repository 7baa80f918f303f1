// internal/model/message.go
package model

import "time"

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// MessageStatus represents valid message statuses
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
	StatusReceived  MessageStatus = "received"
)

// rank orders outbound statuses; delivered and failed share the terminal rank.
var rank = map[MessageStatus]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusFailed:    2,
	StatusReceived:  2,
}

func (s MessageStatus) Valid() bool {
	_, ok := rank[s]
	return ok
}

func (s MessageStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusReceived
}

// CanTransition reports whether a message in status s may move to next.
// Transitions only ever move forward; received is never reached by transition.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if !s.Valid() || !next.Valid() || next == StatusReceived || s == StatusReceived {
		return false
	}
	if s.Terminal() {
		return false
	}
	return rank[next] > rank[s]
}

// Predecessors lists the statuses from which next may be reached.
func Predecessors(next MessageStatus) []MessageStatus {
	out := []MessageStatus{}
	for _, s := range []MessageStatus{StatusQueued, StatusSent} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

type Message struct {
	ID          string        `db:"id" json:"id"`
	ThreadID    string        `db:"thread_id" json:"thread_id"`
	WorkspaceID string        `db:"workspace_id" json:"workspace_id"`
	ContactID   string        `db:"contact_id" json:"contact_id"`
	CampaignID  *string       `db:"campaign_id" json:"campaign_id,omitempty"`
	Direction   Direction     `db:"direction" json:"direction"`
	Status      MessageStatus `db:"status" json:"status"`
	Body        string        `db:"body" json:"body"`
	FromNumber  string        `db:"from_number" json:"from_number"`
	ToNumber    string        `db:"to_number" json:"to_number"`
	ExternalID  *string       `db:"external_id" json:"external_id,omitempty"`
	Error       string        `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
	SentAt      *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
}

// ProviderMessage is the audit row written once the provider acknowledged a send.
type ProviderMessage struct {
	ExternalID  string        `db:"external_id" json:"external_id"`
	WorkspaceID string        `db:"workspace_id" json:"workspace_id"`
	ThreadID    string        `db:"thread_id" json:"thread_id"`
	MessageID   string        `db:"message_id" json:"message_id"`
	Provider    string        `db:"provider" json:"provider"`
	FromNumber  string        `db:"from_number" json:"from_number"`
	ToNumber    string        `db:"to_number" json:"to_number"`
	Body        string        `db:"body" json:"body"`
	Status      MessageStatus `db:"status" json:"status"`
	Direction   Direction     `db:"direction" json:"direction"`
}

// HeldReceipt is a provider status that arrived before the send it refers to
// was recorded. It is applied once the message carries the external id.
type HeldReceipt struct {
	ExternalID  string        `db:"external_id" json:"external_id"`
	WorkspaceID string        `db:"workspace_id" json:"workspace_id"`
	Status      MessageStatus `db:"status" json:"status"`
	ReceivedAt  time.Time     `db:"received_at" json:"received_at"`
}
