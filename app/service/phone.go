package service

import (
	"strings"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

// selectPhone returns the first non-blank number in mobile, landline, work order.
func selectPhone(client *entity.Client) string {
	for _, candidate := range []string{client.MobilePhone, client.Phone, client.WorkPhone} {
		if phone := strings.TrimSpace(candidate); phone != "" {
			return phone
		}
	}
	return ""
}

// normalizePhone formats a number as E.164, assuming US numbers for 10 digit input.
// Anything else is passed through as +digits.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	default:
		return "+" + digits
	}
}
