package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusPaid       PaymentStatus = "PAID"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusExpired    PaymentStatus = "EXPIRED"
	PaymentStatusRefund     PaymentStatus = "REFUND"
	PaymentStatusChargeback PaymentStatus = "CHARGEBACK"
)

type Payment struct {
	ID uint64

	ShopID  uint64
	OrderID string
	Gateway string

	GatewayOrderID   *string
	GatewayPaymentID *string

	Amount   decimal.Decimal
	Currency string

	Status        PaymentStatus
	PaymentMethod string
	CardLast4     *string

	CustomerName      *string
	CustomerEmail     *string
	CustomerIP        *string
	CustomerUserAgent *string
	CustomerCountry   *string

	PaymentLinkID *uint64

	RedirectURL   *string
	ChallengeURL  *string
	FailureReason *string

	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	StatusChangedAt *time.Time
	StatusChangedBy *string
}
