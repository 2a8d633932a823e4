package entity

import "time"

const (
	WebhookEventProcessed = "processed"
	WebhookEventIgnored   = "ignored"
	WebhookEventRejected  = "rejected"
)

type WebhookEvent struct {
	ID uint64

	ProviderEventID *string
	EventType       string
	Status          string
	Error           *string
	PayloadJSON     string

	CreatedAt time.Time
}
