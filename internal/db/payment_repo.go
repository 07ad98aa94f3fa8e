package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"brokerdesk/internal/types"
)

// PaymentRepository provides data access for the crm_payment table.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a new PaymentRepository backed by the given
// database connection (pool or transaction).
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `p.id, p.lead_id, p.name, p.email, p.phone_number,
	p.order_id, p.service, p.paid_amount, p.status, p.mode,
	p.transaction_id, p.description, p.branch_id, p.created_at, p.updated_at`

func scanPayment(row pgx.Row) (*types.Payment, error) {
	var payment types.Payment
	var orderID, service, mode, transactionID, description *string

	err := row.Scan(
		&payment.ID,
		&payment.LeadID,
		&payment.Name,
		&payment.Email,
		&payment.Phone,
		&orderID,
		&service,
		&payment.Amount,
		&payment.Status,
		&mode,
		&transactionID,
		&description,
		&payment.BranchID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if orderID != nil {
		payment.OrderID = *orderID
	}
	if service != nil {
		payment.Service = *service
	}
	if mode != nil {
		payment.Mode = *mode
	}
	if transactionID != nil {
		payment.TransactionID = *transactionID
	}
	if description != nil {
		payment.Description = *description
	}
	return &payment, nil
}

// Create inserts a payment record and populates the generated ID and
// timestamps on the passed struct.
func (r *PaymentRepository) Create(ctx context.Context, payment *types.Payment) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO crm_payment
		   (lead_id, name, email, phone_number, order_id, service, paid_amount,
		    status, mode, transaction_id, description, branch_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		payment.LeadID,
		payment.Name,
		payment.Email,
		payment.Phone,
		nilIfEmpty(payment.OrderID),
		nilIfEmpty(payment.Service),
		payment.Amount,
		payment.Status,
		nilIfEmpty(payment.Mode),
		nilIfEmpty(payment.TransactionID),
		nilIfEmpty(payment.Description),
		payment.BranchID,
	)
	if err := row.Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create payment", err)
	}
	return nil
}

// GetByID retrieves a payment by primary key.
func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*types.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+`
		 FROM crm_payment p
		 WHERE p.id = $1`,
		id,
	)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve payment", err)
	}
	return payment, nil
}

// GetByOrderID retrieves a payment by its gateway order reference. Used by
// the webhook handler to correlate gateway events.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*types.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+`
		 FROM crm_payment p
		 WHERE p.order_id = $1`,
		orderID,
	)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found for order", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve payment", err)
	}
	return payment, nil
}

// SetOrderID records the gateway order reference created for a payment.
func (r *PaymentRepository) SetOrderID(ctx context.Context, id int64, orderID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_payment
		 SET order_id = $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		orderID,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set payment order reference", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found", nil)
	}
	return nil
}

// UpdateStatus transitions a payment's gateway status and records the
// gateway transaction reference when present.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id int64, status types.PaymentStatus, transactionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_payment
		 SET status = $1,
		     transaction_id = COALESCE($2, transaction_id),
		     updated_at = NOW()
		 WHERE id = $3`,
		status,
		nilIfEmpty(transactionID),
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update payment status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found", nil)
	}
	return nil
}

// ListByLead returns a lead's payments, newest first.
func (r *PaymentRepository) ListByLead(ctx context.Context, leadID int64) ([]types.Payment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM crm_payment p
		 WHERE p.lead_id = $1
		 ORDER BY p.created_at DESC`,
		leadID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list payments", err)
	}
	defer rows.Close()

	var payments []types.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment", err)
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "payment scan failed", err)
	}
	return payments, nil
}
