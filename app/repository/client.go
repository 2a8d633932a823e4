package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

var ErrClientNotFound = errors.New("client not found")

const clientColumns = `
	id, name, first_name, last_name, mobile_phone, phone, work_phone,
	patient_balance, outstanding_balance, account_status, created_at, updated_at
`

type ClientRepository struct {
	db DBTX
}

func NewClientRepository(db DBTX) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) FindByID(ctx context.Context, id uint64) (*entity.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = ?`

	client := &entity.Client{}
	if err := scanClient(r.db.QueryRowContext(ctx, query, id), client); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return client, nil
}

// FindForUpdate locks the client row for the rest of the surrounding transaction.
func (r *ClientRepository) FindForUpdate(ctx context.Context, id uint64) (*entity.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = ? FOR UPDATE`

	client := &entity.Client{}
	if err := scanClient(r.db.QueryRowContext(ctx, query, id), client); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return client, nil
}

func (r *ClientRepository) FindByIDs(ctx context.Context, ids []uint64) ([]*entity.Client, error) {
	if len(ids) == 0 {
		return []*entity.Client{}, nil
	}

	placeholders, args := inClause(ids)
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id IN (` + placeholders + `) ORDER BY id ASC`

	return r.queryClients(ctx, query, args...)
}

// ListEligibleForLinks returns clients owing at least threshold on either balance
// that do not already hold a pending payment link. An empty ids slice means all clients.
func (r *ClientRepository) ListEligibleForLinks(ctx context.Context, threshold decimal.Decimal, ids []uint64) ([]*entity.Client, error) {
	query := `SELECT ` + clientColumns + `
		FROM clients c
		WHERE (c.patient_balance >= ? OR c.outstanding_balance >= ?)
			AND NOT EXISTS (
				SELECT 1 FROM payment_links pl
				WHERE pl.client_id = c.id AND pl.payment_status = 'pending'
			)`
	args := []interface{}{threshold, threshold}

	if len(ids) > 0 {
		placeholders, idArgs := inClause(ids)
		query += ` AND c.id IN (` + placeholders + `)`
		args = append(args, idArgs...)
	}
	query += ` ORDER BY c.id ASC`

	return r.queryClients(ctx, query, args...)
}

func (r *ClientRepository) UpdateBalances(ctx context.Context, client *entity.Client) error {
	query := `
		UPDATE clients SET
			patient_balance = ?,
			outstanding_balance = ?,
			account_status = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		client.PatientBalance,
		client.OutstandingBalance,
		client.AccountStatus,
		client.UpdatedAt,
		client.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrClientNotFound
	}

	return nil
}

func (r *ClientRepository) queryClients(ctx context.Context, query string, args ...interface{}) ([]*entity.Client, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Client, 0)
	for rows.Next() {
		client := &entity.Client{}
		if err := scanClient(rows, client); err != nil {
			return nil, err
		}
		items = append(items, client)
	}

	return items, rows.Err()
}

func scanClient(scanner rowScanner, client *entity.Client) error {
	var (
		name, firstName, lastName      sql.NullString
		mobilePhone, phone, workPhone  sql.NullString
		patientBalance, outstandingBal decimal.NullDecimal
		createdAt, updatedAt           sql.NullTime
	)

	if err := scanner.Scan(
		&client.ID,
		&name,
		&firstName,
		&lastName,
		&mobilePhone,
		&phone,
		&workPhone,
		&patientBalance,
		&outstandingBal,
		&client.AccountStatus,
		&createdAt,
		&updatedAt,
	); err != nil {
		return err
	}

	client.Name = name.String
	client.FirstName = firstName.String
	client.LastName = lastName.String
	client.MobilePhone = mobilePhone.String
	client.Phone = phone.String
	client.WorkPhone = workPhone.String
	client.PatientBalance = patientBalance.Decimal
	client.OutstandingBalance = outstandingBal.Decimal
	client.CreatedAt = nullTimeOrZero(createdAt)
	client.UpdatedAt = nullTimeOrZero(updatedAt)

	return nil
}

func nullTimeOrZero(v sql.NullTime) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time
}
