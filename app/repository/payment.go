package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
	ErrStaleWrite           = errors.New("payment status changed concurrently")
)

const paymentColumns = `
	id, shop_id, order_id, gateway, gateway_order_id, gateway_payment_id,
	amount, currency, status, payment_method, card_last4,
	customer_name, customer_email, customer_ip, customer_user_agent, customer_country,
	payment_link_id, redirect_url, challenge_url, failure_reason,
	created_at, updated_at, paid_at, status_changed_at, status_changed_by
`

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	query := `
		INSERT INTO payments (
			shop_id, order_id, gateway, gateway_order_id, gateway_payment_id,
			amount, currency, status, payment_method, card_last4,
			customer_name, customer_email, customer_ip, customer_user_agent, customer_country,
			payment_link_id, redirect_url, challenge_url, failure_reason,
			created_at, updated_at, paid_at, status_changed_at, status_changed_by
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.ShopID,
		payment.OrderID,
		payment.Gateway,
		nullableStringValue(payment.GatewayOrderID),
		nullableStringValue(payment.GatewayPaymentID),
		payment.Amount.StringFixed(2),
		payment.Currency,
		string(payment.Status),
		payment.PaymentMethod,
		nullableStringValue(payment.CardLast4),
		nullableStringValue(payment.CustomerName),
		nullableStringValue(payment.CustomerEmail),
		nullableStringValue(payment.CustomerIP),
		nullableStringValue(payment.CustomerUserAgent),
		nullableStringValue(payment.CustomerCountry),
		nullableUint64Value(payment.PaymentLinkID),
		nullableStringValue(payment.RedirectURL),
		nullableStringValue(payment.ChallengeURL),
		nullableStringValue(payment.FailureReason),
		payment.CreatedAt,
		payment.UpdatedAt,
		nullableTimeValue(payment.PaidAt),
		nullableTimeValue(payment.StatusChangedAt),
		nullableStringValue(payment.StatusChangedBy),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

// Update writes the mutable columns only while the stored status still equals
// expected. A lost race returns ErrStaleWrite.
func (r *PaymentRepository) Update(ctx context.Context, payment *entity.Payment, expected entity.PaymentStatus) error {
	query := `
		UPDATE payments SET
			gateway_order_id = ?,
			gateway_payment_id = ?,
			status = ?,
			redirect_url = ?,
			challenge_url = ?,
			failure_reason = ?,
			updated_at = ?,
			paid_at = ?,
			status_changed_at = ?,
			status_changed_by = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(payment.GatewayOrderID),
		nullableStringValue(payment.GatewayPaymentID),
		string(payment.Status),
		nullableStringValue(payment.RedirectURL),
		nullableStringValue(payment.ChallengeURL),
		nullableStringValue(payment.FailureReason),
		payment.UpdatedAt,
		nullableTimeValue(payment.PaidAt),
		nullableTimeValue(payment.StatusChangedAt),
		nullableStringValue(payment.StatusChangedBy),
		payment.ID,
		string(expected),
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// MySQL reports zero rows when nothing changed, so look before deciding.
	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM payments WHERE id = ?`, payment.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return err
	}
	if entity.PaymentStatus(current) != expected {
		return ErrStaleWrite
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	return r.findOne(ctx, query, id)
}

func (r *PaymentRepository) FindByShopOrderID(ctx context.Context, shopID uint64, orderID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE shop_id = ? AND order_id = ? LIMIT 1`
	return r.findOne(ctx, query, shopID, orderID)
}

func (r *PaymentRepository) FindByGatewayReference(ctx context.Context, gateway, reference string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway = ? AND gateway_payment_id = ? LIMIT 1`
	return r.findOne(ctx, query, gateway, reference)
}

// ListForReconcile returns non-terminal payments untouched since before that
// have a gateway reference and no probe job, armed or exhausted.
func (r *PaymentRepository) ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.status IN (?, ?)
		  AND p.gateway_payment_id IS NOT NULL
		  AND p.updated_at <= ?
		  AND NOT EXISTS (SELECT 1 FROM probe_jobs j WHERE j.payment_id = p.id)
		ORDER BY p.updated_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query,
		string(entity.PaymentStatusPending),
		string(entity.PaymentStatusProcessing),
		before,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item, err := scanPaymentFromRows(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Payment, error) {
	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, args...), payment); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var gatewayOrderID sql.NullString
	var gatewayPaymentID sql.NullString
	var status string
	var cardLast4 sql.NullString
	var customerName sql.NullString
	var customerEmail sql.NullString
	var customerIP sql.NullString
	var customerUserAgent sql.NullString
	var customerCountry sql.NullString
	var paymentLinkID sql.NullInt64
	var redirectURL sql.NullString
	var challengeURL sql.NullString
	var failureReason sql.NullString
	var paidAt sql.NullTime
	var statusChangedAt sql.NullTime
	var statusChangedBy sql.NullString

	err := scan.Scan(
		&payment.ID,
		&payment.ShopID,
		&payment.OrderID,
		&payment.Gateway,
		&gatewayOrderID,
		&gatewayPaymentID,
		&payment.Amount,
		&payment.Currency,
		&status,
		&payment.PaymentMethod,
		&cardLast4,
		&customerName,
		&customerEmail,
		&customerIP,
		&customerUserAgent,
		&customerCountry,
		&paymentLinkID,
		&redirectURL,
		&challengeURL,
		&failureReason,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&paidAt,
		&statusChangedAt,
		&statusChangedBy,
	)
	if err != nil {
		return err
	}

	payment.Status = entity.PaymentStatus(status)
	payment.GatewayOrderID = stringPtrFromNull(gatewayOrderID)
	payment.GatewayPaymentID = stringPtrFromNull(gatewayPaymentID)
	payment.CardLast4 = stringPtrFromNull(cardLast4)
	payment.CustomerName = stringPtrFromNull(customerName)
	payment.CustomerEmail = stringPtrFromNull(customerEmail)
	payment.CustomerIP = stringPtrFromNull(customerIP)
	payment.CustomerUserAgent = stringPtrFromNull(customerUserAgent)
	payment.CustomerCountry = stringPtrFromNull(customerCountry)
	payment.PaymentLinkID = uint64PtrFromNull(paymentLinkID)
	payment.RedirectURL = stringPtrFromNull(redirectURL)
	payment.ChallengeURL = stringPtrFromNull(challengeURL)
	payment.FailureReason = stringPtrFromNull(failureReason)
	payment.PaidAt = timePtrFromNull(paidAt)
	payment.StatusChangedAt = timePtrFromNull(statusChangedAt)
	payment.StatusChangedBy = stringPtrFromNull(statusChangedBy)

	return nil
}

func scanPaymentFromRows(rows *sql.Rows) (*entity.Payment, error) {
	item := &entity.Payment{}
	if err := scanPayment(rows, item); err != nil {
		return nil, err
	}
	return item, nil
}
