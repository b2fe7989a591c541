package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

var ErrPaymentLinkNotFound = errors.New("payment link not found")

type PaymentLinkRepository struct {
	db DBTX
}

func NewPaymentLinkRepository(db DBTX) *PaymentLinkRepository {
	return &PaymentLinkRepository{db: db}
}

func (r *PaymentLinkRepository) Create(ctx context.Context, link *entity.PaymentLink) error {
	query := `
		INSERT INTO payment_links (shop_id, type, status, current_payments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		link.ShopID,
		string(link.Type),
		string(link.Status),
		link.CurrentPayments,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
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
	query := `
		SELECT id, shop_id, type, status, current_payments, created_at, updated_at
		FROM payment_links
		WHERE id = ?
	`

	link := &entity.PaymentLink{}
	var linkType, status string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&link.ID,
		&link.ShopID,
		&linkType,
		&status,
		&link.CurrentPayments,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	link.Type = entity.PaymentLinkType(linkType)
	link.Status = entity.PaymentLinkStatus(status)
	return link, nil
}

// IncrementUsage counts one successful payment against the link in a single
// statement. SINGLE links complete on the same write.
func (r *PaymentLinkRepository) IncrementUsage(ctx context.Context, id uint64, now time.Time) error {
	query := `
		UPDATE payment_links SET
			current_payments = current_payments + 1,
			status = CASE WHEN type = ? THEN ? ELSE status END,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(entity.PaymentLinkTypeSingle),
		string(entity.PaymentLinkStatusCompleted),
		now,
		id,
	)
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
