package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type ShopRepository struct {
	db DBTX
}

func NewShopRepository(db DBTX) *ShopRepository {
	return &ShopRepository{db: db}
}

func (r *ShopRepository) Create(ctx context.Context, shop *entity.Shop) error {
	events, err := serializeEvents(shop.WebhookEvents)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO shops (name, webhook_url, webhook_secret, webhook_events) VALUES (?, ?, ?, ?)`,
		shop.Name,
		shop.WebhookURL,
		shop.WebhookSecret,
		events,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	shop.ID = uint64(id)
	return nil
}

func (r *ShopRepository) FindByID(ctx context.Context, id uint64) (*entity.Shop, error) {
	shop := &entity.Shop{}
	var events string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, webhook_url, webhook_secret, webhook_events FROM shops WHERE id = ?`,
		id,
	).Scan(&shop.ID, &shop.Name, &shop.WebhookURL, &shop.WebhookSecret, &events)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	shop.WebhookEvents, err = parseEvents(events)
	if err != nil {
		return nil, err
	}
	return shop, nil
}
