package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

var (
	ErrPaymentLinkNotFound      = errors.New("payment link not found")
	ErrPaymentLinkAlreadyExists = errors.New("payment link already exists")
)

const paymentLinkColumns = `
	id, client_id, gateway_link_id, url, amount, description,
	payment_status, sms_status, sms_sent_at, paid_at, created_at, updated_at
`

type PaymentLinkFilter struct {
	ClientID      uint64
	PaymentStatus string
	SmsStatus     string
	Search        string
	Limit         int32
	Offset        int32
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type PaymentLinkRepository struct {
	db DBTX
}

func NewPaymentLinkRepository(db DBTX) *PaymentLinkRepository {
	return &PaymentLinkRepository{db: db}
}

func (r *PaymentLinkRepository) Create(ctx context.Context, link *entity.PaymentLink) error {
	query := `
		INSERT INTO payment_links (
			client_id, gateway_link_id, url, amount, description,
			payment_status, sms_status, sms_sent_at, paid_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		link.ClientID,
		nullableStringValue(link.GatewayLinkID),
		link.URL,
		link.Amount,
		nullableStringValue(link.Description),
		link.PaymentStatus,
		link.SmsStatus,
		nullableTimeValue(link.SmsSentAt),
		nullableTimeValue(link.PaidAt),
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentLinkAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	link.ID = uint64(id)
	return nil
}

func (r *PaymentLinkRepository) FindByID(ctx context.Context, id uint64) (*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + ` FROM payment_links WHERE id = ?`
	return r.findOne(ctx, query, id)
}

func (r *PaymentLinkRepository) FindByGatewayLinkID(ctx context.Context, gatewayLinkID string) (*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + ` FROM payment_links WHERE gateway_link_id = ?`
	return r.findOne(ctx, query, gatewayLinkID)
}

func (r *PaymentLinkRepository) FindLatestPendingForClient(ctx context.Context, clientID uint64) (*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + `
		FROM payment_links
		WHERE client_id = ? AND payment_status = 'pending'
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	return r.findOne(ctx, query, clientID)
}

func (r *PaymentLinkRepository) FindByIDs(ctx context.Context, ids []uint64) ([]*entity.PaymentLink, error) {
	if len(ids) == 0 {
		return []*entity.PaymentLink{}, nil
	}

	placeholders, args := inClause(ids)
	query := `SELECT ` + paymentLinkColumns + ` FROM payment_links WHERE id IN (` + placeholders + `) ORDER BY id ASC`
	return r.queryLinks(ctx, query, args...)
}

func (r *PaymentLinkRepository) List(ctx context.Context, filter PaymentLinkFilter) ([]*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + ` FROM payment_links`

	where := make([]string, 0, 4)
	args := make([]interface{}, 0, 9)
	if filter.ClientID > 0 {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.PaymentStatus != "" {
		where = append(where, "payment_status = ?")
		args = append(args, filter.PaymentStatus)
	}
	if filter.SmsStatus != "" {
		where = append(where, "sms_status = ?")
		args = append(args, filter.SmsStatus)
	}
	// Search matches part of the client's name, first name, last name or full name.
	if filter.Search != "" {
		where = append(where, `client_id IN (
			SELECT id FROM clients
			WHERE name LIKE ? OR first_name LIKE ? OR last_name LIKE ?
				OR CONCAT_WS(' ', first_name, last_name) LIKE ?
		)`)
		pattern := "%" + likeEscaper.Replace(filter.Search) + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return r.queryLinks(ctx, query, args...)
}

// ListPendingWithGatewayID returns every pending link that can be polled against the gateway.
func (r *PaymentLinkRepository) ListPendingWithGatewayID(ctx context.Context) ([]*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + `
		FROM payment_links
		WHERE payment_status = 'pending' AND gateway_link_id IS NOT NULL
		ORDER BY id ASC`
	return r.queryLinks(ctx, query)
}

func (r *PaymentLinkRepository) ListSmsCandidateIDs(ctx context.Context, limit int) ([]uint64, error) {
	query := `
		SELECT id FROM payment_links
		WHERE payment_status = 'pending' AND sms_status = 'not_sent'
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *PaymentLinkRepository) CountSmsCandidates(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payment_links
		WHERE payment_status = 'pending' AND sms_status = 'not_sent'
	`).Scan(&count)
	return count, err
}

func (r *PaymentLinkRepository) CountPendingWithGatewayID(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payment_links
		WHERE payment_status = 'pending' AND gateway_link_id IS NOT NULL
	`).Scan(&count)
	return count, err
}

func (r *PaymentLinkRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_links WHERE payment_status = 'pending'`).Scan(&count)
	return count, err
}

func (r *PaymentLinkRepository) SumPendingAmount(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.QueryRowContext(ctx, `SELECT SUM(amount) FROM payment_links WHERE payment_status = 'pending'`).Scan(&total)
	return total.Decimal, err
}

func (r *PaymentLinkRepository) SumPaidBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM payment_links
		WHERE payment_status = 'paid' AND paid_at >= ? AND paid_at < ?
	`, from, to).Scan(&total)
	return total.Decimal, err
}

func (r *PaymentLinkRepository) ListRecentPaid(ctx context.Context, limit int) ([]*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + `
		FROM payment_links
		WHERE payment_status = 'paid'
		ORDER BY paid_at DESC
		LIMIT ?`
	return r.queryLinks(ctx, query, limit)
}

func (r *PaymentLinkRepository) UpdateSmsStatus(ctx context.Context, id uint64, status string, sentAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_links SET sms_status = ?, sms_sent_at = ?, updated_at = ?
		WHERE id = ?
	`, status, sentAt, sentAt, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentLinkNotFound
	}
	return nil
}

// MarkPaidByGatewayLinkID flips a pending link to paid. It reports whether a row changed;
// links already paid or expired are left untouched.
func (r *PaymentLinkRepository) MarkPaidByGatewayLinkID(ctx context.Context, gatewayLinkID string, paidAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_links SET payment_status = 'paid', paid_at = ?, updated_at = ?
		WHERE gateway_link_id = ? AND payment_status = 'pending'
	`, paidAt, paidAt, gatewayLinkID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PaymentLinkRepository) MarkExpired(ctx context.Context, id uint64, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_links SET payment_status = 'expired', updated_at = ?
		WHERE id = ? AND payment_status = 'pending'
	`, now, id)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PaymentLinkRepository) Delete(ctx context.Context, id uint64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM payment_links WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentLinkNotFound
	}
	return nil
}

func (r *PaymentLinkRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.PaymentLink, error) {
	link := &entity.PaymentLink{}
	if err := scanPaymentLink(r.db.QueryRowContext(ctx, query, args...), link); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return link, nil
}

func (r *PaymentLinkRepository) queryLinks(ctx context.Context, query string, args ...interface{}) ([]*entity.PaymentLink, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.PaymentLink, 0)
	for rows.Next() {
		link := &entity.PaymentLink{}
		if err := scanPaymentLink(rows, link); err != nil {
			return nil, err
		}
		items = append(items, link)
	}

	return items, rows.Err()
}

func scanPaymentLink(scanner rowScanner, link *entity.PaymentLink) error {
	var (
		gatewayLinkID sql.NullString
		description   sql.NullString
		smsSentAt     sql.NullTime
		paidAt        sql.NullTime
	)

	if err := scanner.Scan(
		&link.ID,
		&link.ClientID,
		&gatewayLinkID,
		&link.URL,
		&link.Amount,
		&description,
		&link.PaymentStatus,
		&link.SmsStatus,
		&smsSentAt,
		&paidAt,
		&link.CreatedAt,
		&link.UpdatedAt,
	); err != nil {
		return err
	}

	link.GatewayLinkID = stringPtrFromNull(gatewayLinkID)
	link.Description = stringPtrFromNull(description)
	link.SmsSentAt = timePtrFromNull(smsSentAt)
	link.PaidAt = timePtrFromNull(paidAt)

	return nil
}
