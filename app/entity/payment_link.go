package entity

import "time"

type PaymentLinkType string

const (
	PaymentLinkTypeSingle PaymentLinkType = "SINGLE"
	PaymentLinkTypeMulti  PaymentLinkType = "MULTI"
)

type PaymentLinkStatus string

const (
	PaymentLinkStatusActive    PaymentLinkStatus = "ACTIVE"
	PaymentLinkStatusInactive  PaymentLinkStatus = "INACTIVE"
	PaymentLinkStatusExpired   PaymentLinkStatus = "EXPIRED"
	PaymentLinkStatusCompleted PaymentLinkStatus = "COMPLETED"
)

type PaymentLink struct {
	ID     uint64
	ShopID uint64

	Type            PaymentLinkType
	Status          PaymentLinkStatus
	CurrentPayments int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
