package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type WebhookLogRepository struct {
	db DBTX
}

func NewWebhookLogRepository(db DBTX) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) Create(ctx context.Context, log *entity.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (
			payment_id, shop_id, event, direction, response_code, response_body, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		log.PaymentID,
		log.ShopID,
		log.Event,
		log.Direction,
		nullableInt32Value(log.ResponseCode),
		nullableStringValue(log.ResponseBody),
		log.CreatedAt,
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

func (r *WebhookLogRepository) ListByPayment(ctx context.Context, paymentID uint64) ([]*entity.WebhookLog, error) {
	query := `
		SELECT id, payment_id, shop_id, event, direction, response_code, response_body, created_at
		FROM webhook_logs
		WHERE payment_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*entity.WebhookLog, 0)
	for rows.Next() {
		item := &entity.WebhookLog{}
		var responseCode sql.NullInt32
		var responseBody sql.NullString
		if err := rows.Scan(
			&item.ID,
			&item.PaymentID,
			&item.ShopID,
			&item.Event,
			&item.Direction,
			&responseCode,
			&responseBody,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		item.ResponseCode = int32PtrFromNull(responseCode)
		item.ResponseBody = stringPtrFromNull(responseBody)
		logs = append(logs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}
