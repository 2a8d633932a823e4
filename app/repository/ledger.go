package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

// LedgerTx is the set of writes that must commit together when a payment is confirmed.
type LedgerTx interface {
	MarkLinkPaid(ctx context.Context, gatewayLinkID string, paidAt time.Time) (bool, error)
	CreatePaymentRecord(ctx context.Context, record *entity.PaymentRecord) error
	FindClientForUpdate(ctx context.Context, id uint64) (*entity.Client, error)
	UpdateClientBalances(ctx context.Context, client *entity.Client) error
}

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithinTx runs fn inside one transaction, committing only when fn returns nil.
func (r *LedgerRepository) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&ledgerTx{
		links:   NewPaymentLinkRepository(tx),
		records: NewPaymentRecordRepository(tx),
		clients: NewClientRepository(tx),
	}); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

type ledgerTx struct {
	links   *PaymentLinkRepository
	records *PaymentRecordRepository
	clients *ClientRepository
}

func (t *ledgerTx) MarkLinkPaid(ctx context.Context, gatewayLinkID string, paidAt time.Time) (bool, error) {
	return t.links.MarkPaidByGatewayLinkID(ctx, gatewayLinkID, paidAt)
}

func (t *ledgerTx) CreatePaymentRecord(ctx context.Context, record *entity.PaymentRecord) error {
	return t.records.Create(ctx, record)
}

func (t *ledgerTx) FindClientForUpdate(ctx context.Context, id uint64) (*entity.Client, error) {
	return t.clients.FindForUpdate(ctx, id)
}

func (t *ledgerTx) UpdateClientBalances(ctx context.Context, client *entity.Client) error {
	return t.clients.UpdateBalances(ctx, client)
}
