package provider

import "context"

const (
	SmsOutcomeSent   = "sent"
	SmsOutcomeFailed = "failed"
)

type SmsResult struct {
	Outcome           string
	ProviderMessageID string
	Error             string
}

func (r SmsResult) Sent() bool {
	return r.Outcome == SmsOutcomeSent
}

// Notifier reports provider failures through SmsResult rather than an error.
type Notifier interface {
	SendSms(ctx context.Context, to, body string) SmsResult
}
