package provider

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNotConfigured    = errors.New("provider is not configured")
)

type EventKind int

const (
	EventOther EventKind = iota
	EventCheckoutSessionCompleted
)

type LinkInput struct {
	ClientID    uint64
	ProductName string
	AmountMinor int64
}

type CreatedLink struct {
	ID  string
	URL string
}

type Session struct {
	ID            string
	PaymentStatus string
	Status        string
	AmountTotal   int64
	CreatedAt     time.Time
	LinkID        string
	ClientID      uint64
}

func (s Session) IsPaid() bool {
	return s.PaymentStatus == "paid"
}

func (s Session) IsExpired() bool {
	return s.Status == "expired"
}

// Event is a verified webhook delivery. Session is set only for checkout session kinds.
type Event struct {
	ID      string
	Type    string
	Kind    EventKind
	Session *Session
}

type Gateway interface {
	CreateLink(ctx context.Context, input LinkInput) (*CreatedLink, error)
	VerifyWebhook(payload []byte, signature string) (*Event, error)
	ListSessions(ctx context.Context, linkID string) ([]Session, error)
}
