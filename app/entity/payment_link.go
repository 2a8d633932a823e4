package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
	PaymentStatusExpired = "expired"
)

const (
	SmsStatusNotSent = "not_sent"
	SmsStatusSent    = "sent"
	SmsStatusFailed  = "failed"
)

type PaymentLink struct {
	ID uint64

	ClientID uint64

	GatewayLinkID *string
	URL           string

	Amount      decimal.Decimal
	Description *string

	PaymentStatus string
	SmsStatus     string
	SmsSentAt     *time.Time
	PaidAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l *PaymentLink) IsPending() bool {
	return l.PaymentStatus == PaymentStatusPending
}

func (l *PaymentLink) SmsEligible() bool {
	return l.PaymentStatus == PaymentStatusPending && l.SmsStatus == SmsStatusNotSent
}
