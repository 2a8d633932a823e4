package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

type SmsLogRepository struct {
	db DBTX
}

func NewSmsLogRepository(db DBTX) *SmsLogRepository {
	return &SmsLogRepository{db: db}
}

func (r *SmsLogRepository) Create(ctx context.Context, log *entity.SmsLog) error {
	query := `
		INSERT INTO payment_link_sms_logs (
			payment_link_id, phone, status, provider_message_id, error, sent_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		log.PaymentLinkID,
		log.Phone,
		log.Status,
		nullableStringValue(log.ProviderMessageID),
		nullableStringValue(log.Error),
		log.SentAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	log.ID = uint64(id)

	return nil
}
