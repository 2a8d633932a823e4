package repository

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

var ErrPaymentRecordAlreadyExists = errors.New("payment record already exists")

type PaymentRecordRepository struct {
	db DBTX
}

func NewPaymentRecordRepository(db DBTX) *PaymentRecordRepository {
	return &PaymentRecordRepository{db: db}
}

// Create inserts the record. The unique index on gateway_session_id turns a second
// confirmation of the same checkout session into ErrPaymentRecordAlreadyExists.
func (r *PaymentRecordRepository) Create(ctx context.Context, record *entity.PaymentRecord) error {
	query := `
		INSERT INTO client_payments (
			client_id, amount_paid, gateway_session_id, gateway_link_id, paid_at, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		record.ClientID,
		record.AmountPaid,
		record.GatewaySessionID,
		nullableStringValue(record.GatewayLinkID),
		record.PaidAt,
		record.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentRecordAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = uint64(id)
	return nil
}

func (r *PaymentRecordRepository) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM client_payments WHERE gateway_session_id = ?)`,
		sessionID,
	).Scan(&exists)
	return exists, err
}
