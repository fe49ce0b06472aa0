package domain

import (
	"encoding/json"
	"time"
)

// BillingEventRecord is the audit row written for every received webhook
// before any side effect is applied.
type BillingEventRecord struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	ProviderEventID string          `json:"provider_event_id"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	Processed       bool            `json:"processed"`
	Outcome         string          `json:"outcome,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// BillingNotice is published to the message broker after a billing event
// changed local state.
type BillingNotice struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	AccountID  string    `json:"account_id,omitempty"`
	Plan       Plan      `json:"plan,omitempty"`
	Status     string    `json:"status,omitempty"`
	Credits    int64     `json:"credits,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
