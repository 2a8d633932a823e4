package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/repository"
)

type ledger interface {
	WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error
}

type paymentRecordRepository interface {
	ExistsBySessionID(ctx context.Context, sessionID string) (bool, error)
}

type paidLinkMarker interface {
	MarkPaidByGatewayLinkID(ctx context.Context, gatewayLinkID string, paidAt time.Time) (bool, error)
}

// SessionPayment is a completed checkout session as seen by either the webhook or the poller.
type SessionPayment struct {
	SessionID     string
	GatewayLinkID string
	ClientID      uint64
	AmountMinor   int64
	PaidAt        time.Time
}

type RecordOutcome struct {
	LinkMarkedPaid bool
	Recorded       bool
	Duplicate      bool
	ClientPaid     bool
	AmountPaid     decimal.Decimal
}

// ReconciliationEngine applies confirmed payments exactly once per gateway session.
type ReconciliationEngine struct {
	ledger  ledger
	records paymentRecordRepository
	links   paidLinkMarker
	logger  logrus.FieldLogger
}

func NewReconciliationEngine(ledger ledger, records paymentRecordRepository, links paidLinkMarker) *ReconciliationEngine {
	return &ReconciliationEngine{
		ledger:  ledger,
		records: records,
		links:   links,
		logger:  factory.NewModuleLogger("reconciliation-engine"),
	}
}

// MarkPaid flips the link with the given gateway id to paid if it is still pending.
func (e *ReconciliationEngine) MarkPaid(ctx context.Context, gatewayLinkID string, paidAt time.Time) (bool, error) {
	gatewayLinkID = strings.TrimSpace(gatewayLinkID)
	if gatewayLinkID == "" {
		return false, nil
	}
	return e.links.MarkPaidByGatewayLinkID(ctx, gatewayLinkID, paidAt.UTC())
}

func (e *ReconciliationEngine) RecordPayment(ctx context.Context, payment SessionPayment) (*RecordOutcome, error) {
	payment.SessionID = strings.TrimSpace(payment.SessionID)
	payment.GatewayLinkID = strings.TrimSpace(payment.GatewayLinkID)
	if payment.SessionID == "" {
		return nil, invalidRequest("gateway session id is required")
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	payment.PaidAt = payment.PaidAt.UTC()

	outcome := &RecordOutcome{AmountPaid: fromMinorUnits(payment.AmountMinor)}

	exists, err := e.records.ExistsBySessionID(ctx, payment.SessionID)
	if err != nil {
		return nil, err
	}
	if exists {
		marked, err := e.MarkPaid(ctx, payment.GatewayLinkID, payment.PaidAt)
		if err != nil {
			return nil, err
		}
		outcome.LinkMarkedPaid = marked
		outcome.Duplicate = true
		return outcome, nil
	}

	err = e.ledger.WithinTx(ctx, func(tx repository.LedgerTx) error {
		if payment.GatewayLinkID != "" {
			marked, err := tx.MarkLinkPaid(ctx, payment.GatewayLinkID, payment.PaidAt)
			if err != nil {
				return err
			}
			outcome.LinkMarkedPaid = marked
		}

		if payment.ClientID == 0 {
			e.logger.WithField("session_id", payment.SessionID).Warn("Paid session carries no client, balance left untouched")
			return nil
		}

		client, err := tx.FindClientForUpdate(ctx, payment.ClientID)
		if err != nil {
			return err
		}
		if client == nil {
			e.logger.WithFields(logrus.Fields{
				"session_id": payment.SessionID,
				"client_id":  payment.ClientID,
			}).Warn("Paid session references unknown client, balance left untouched")
			return nil
		}

		var linkID *string
		if payment.GatewayLinkID != "" {
			id := payment.GatewayLinkID
			linkID = &id
		}
		record := &entity.PaymentRecord{
			ClientID:         client.ID,
			AmountPaid:       outcome.AmountPaid,
			GatewaySessionID: payment.SessionID,
			GatewayLinkID:    linkID,
			PaidAt:           payment.PaidAt,
			CreatedAt:        time.Now().UTC(),
		}
		if err := tx.CreatePaymentRecord(ctx, record); err != nil {
			if errors.Is(err, repository.ErrPaymentRecordAlreadyExists) {
				return ErrDuplicatePayment
			}
			return err
		}

		outcome.ClientPaid = applyPayment(client, outcome.AmountPaid)
		client.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateClientBalances(ctx, client); err != nil {
			return fmt.Errorf("update client balances: %w", err)
		}

		outcome.Recorded = true
		return nil
	})
	if errors.Is(err, ErrDuplicatePayment) {
		// A concurrent delivery of the same session committed first.
		marked, markErr := e.MarkPaid(ctx, payment.GatewayLinkID, payment.PaidAt)
		if markErr != nil {
			return nil, markErr
		}
		return &RecordOutcome{LinkMarkedPaid: marked, Duplicate: true, AmountPaid: outcome.AmountPaid}, nil
	}
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"session_id":  payment.SessionID,
		"client_id":   payment.ClientID,
		"amount_paid": outcome.AmountPaid.StringFixed(2),
		"recorded":    outcome.Recorded,
	}).Info("Payment reconciled")

	return outcome, nil
}

// applyPayment deducts amount from the patient balance when it is positive, otherwise from the
// outstanding balance, never going below zero. It reports whether the account is now settled.
func applyPayment(client *entity.Client, amount decimal.Decimal) bool {
	if client.PatientBalance.IsPositive() {
		client.PatientBalance = decimal.Max(decimal.Zero, client.PatientBalance.Sub(amount))
	} else {
		client.OutstandingBalance = decimal.Max(decimal.Zero, client.OutstandingBalance.Sub(amount))
	}

	if !client.PatientBalance.IsPositive() && !client.OutstandingBalance.IsPositive() {
		client.AccountStatus = entity.AccountStatusPaid
		return true
	}
	return false
}
