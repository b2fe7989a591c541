package entity

import "time"

const (
	WebhookDirectionInternal = "internal"
	WebhookDirectionOutbound = "outbound"
)

type WebhookLog struct {
	ID uint64

	PaymentID uint64
	ShopID    uint64

	Event        string
	Direction    string
	ResponseCode *int32
	ResponseBody *string

	CreatedAt time.Time
}
