package entity

import "time"

type SmsLog struct {
	ID uint64

	PaymentLinkID uint64

	Phone             string
	Status            string
	ProviderMessageID *string
	Error             *string

	SentAt time.Time
}
