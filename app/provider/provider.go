package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const (
	GatewayCardGate     = "cardgate"
	GatewayStripe       = "stripe"
	GatewayCryptoPay    = "cryptopay"
	GatewayBankTransfer = "banktransfer"
	GatewaySandbox      = "sandbox"
)

var (
	ErrTransport        = errors.New("gateway transport error")
	ErrSignatureInvalid = errors.New("gateway signature is invalid")
	ErrNotConfigured    = errors.New("gateway is not configured")
)

type Card struct {
	Number   string
	ExpMonth string
	ExpYear  string
	CVV      string
	Holder   string
}

type CreateInput struct {
	RequestID string
	PaymentID uint64
	ShopID    uint64
	OrderID   string

	Amount      decimal.Decimal
	Currency    string
	Description string

	Card *Card

	CustomerName      string
	CustomerEmail     string
	CustomerIP        string
	CustomerUserAgent string

	SuccessURL string
	FailURL    string
}

// Outcome is a provider response normalized into the shared status set.
// Status is one of PENDING, PAID, FAILED or EXPIRED.
type Outcome struct {
	Status entity.PaymentStatus
	Final  bool

	GatewayReference string
	GatewayOrderID   string
	PaymentRef       string

	RedirectURL   string
	ChallengeURL  string
	FailureReason string

	EventType string
}

type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, input *CreateInput) (*Outcome, error)
	MapInboundEvent(ctx context.Context, payload []byte, signature string) (*Outcome, error)
}

// StatusChecker is implemented by providers that expose a status endpoint.
type StatusChecker interface {
	CheckStatus(ctx context.Context, reference string) (*Outcome, error)
}

// ProbeArmer schedules out-of-band status probes for a payment.
type ProbeArmer interface {
	Arm(ctx context.Context, paymentID uint64, gateway, reference string) error
}
