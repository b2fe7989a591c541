package types

import "github.com/shopspring/decimal"

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type CardDetails struct {
	Number   string `json:"number" validate:"required,credit_card"`
	ExpMonth string `json:"exp_month" validate:"required,numeric,len=2"`
	ExpYear  string `json:"exp_year" validate:"required,numeric,len=4"`
	CVV      string `json:"cvv" validate:"required,numeric,min=3,max=4"`
	Holder   string `json:"holder,omitempty" validate:"omitempty,max=255"`
}

type CreatePaymentRequest struct {
	RequestId string `json:"request_id"`

	ShopId        uint64          `json:"shop_id" validate:"required"`
	OrderId       string          `json:"order_id" validate:"required,max=128"`
	Gateway       string          `json:"gateway" validate:"required,max=32"`
	PaymentMethod string          `json:"payment_method,omitempty" validate:"omitempty,max=32"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3,alpha"`
	Description   string          `json:"description,omitempty" validate:"omitempty,max=255"`

	Card *CardDetails `json:"card,omitempty"`

	CustomerName      string `json:"customer_name,omitempty" validate:"omitempty,max=255"`
	CustomerEmail     string `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerIp        string `json:"customer_ip,omitempty" validate:"omitempty,ip"`
	CustomerUserAgent string `json:"customer_user_agent,omitempty" validate:"omitempty,max=512"`
	CustomerCountry   string `json:"customer_country,omitempty" validate:"omitempty,iso3166_1_alpha2"`

	PaymentLinkId uint64 `json:"payment_link_id,omitempty"`

	SuccessUrl string `json:"success_url,omitempty" validate:"omitempty,url"`
	FailUrl    string `json:"fail_url,omitempty" validate:"omitempty,url"`
}

type GetPaymentRequest struct {
	Id uint64 `json:"-" validate:"required"`
}

type AdministrativeTransitionRequest struct {
	Id     uint64 `json:"-" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=255"`
	Actor  string `json:"-"`
}

type HandleProviderEventRequest struct {
	RequestId string
	Provider  string
	Signature string
	Payload   []byte
}

type Payment struct {
	Id               uint64 `json:"id"`
	ShopId           uint64 `json:"shop_id"`
	OrderId          string `json:"order_id"`
	Gateway          string `json:"gateway"`
	GatewayOrderId   string `json:"gateway_order_id,omitempty"`
	GatewayPaymentId string `json:"gateway_payment_id,omitempty"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	PaymentMethod    string `json:"payment_method,omitempty"`
	CardLast4        string `json:"card_last4,omitempty"`
	PaymentLinkId    uint64 `json:"payment_link_id,omitempty"`
	RedirectUrl      string `json:"redirect_url,omitempty"`
	ChallengeUrl     string `json:"challenge_url,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	PaidAt           string `json:"paid_at,omitempty"`
}

type PaymentEnvelopeResponse struct {
	Payment *Payment `json:"payment"`
}

// WebhookPayment is the merchant-facing payment snapshot.
type WebhookPayment struct {
	Id               uint64  `json:"id"`
	OrderId          string  `json:"order_id"`
	GatewayOrderId   *string `json:"gateway_order_id"`
	Gateway          string  `json:"gateway"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
	CustomerEmail    *string `json:"customer_email"`
	CustomerName     *string `json:"customer_name"`
	GatewayPaymentId *string `json:"gateway_payment_id"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
	PaidAt           *string `json:"paid_at"`
}

type WebhookPayload struct {
	Event   string          `json:"event"`
	Payment *WebhookPayment `json:"payment"`
}
