package entity

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive   = "active"
	AccountStatusInactive = "inactive"
	AccountStatusPending  = "pending"
	AccountStatusPaid     = "paid"
)

type Client struct {
	ID uint64

	Name      string
	FirstName string
	LastName  string

	MobilePhone string
	Phone       string
	WorkPhone   string

	PatientBalance     decimal.Decimal
	OutstandingBalance decimal.Decimal
	AccountStatus      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName prefers the stored full name, then first+last, then the client number.
func (c *Client) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	full := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if full != "" {
		return full
	}
	return "Patient #" + strconv.FormatUint(c.ID, 10)
}

func (c *Client) Greeting() string {
	if first := strings.TrimSpace(c.FirstName); first != "" {
		return first
	}
	return c.DisplayName()
}

// CollectibleAmount is the patient balance when positive, otherwise the outstanding balance.
func (c *Client) CollectibleAmount() decimal.Decimal {
	if c.PatientBalance.IsPositive() {
		return c.PatientBalance
	}
	return c.OutstandingBalance
}
