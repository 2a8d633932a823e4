package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentRecord struct {
	ID uint64

	ClientID uint64

	AmountPaid decimal.Decimal

	GatewaySessionID string
	GatewayLinkID    *string

	PaidAt    time.Time
	CreatedAt time.Time
}
