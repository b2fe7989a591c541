package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const defaultSandboxSuccessCard = "4242424242424242"

type SandboxConfig struct {
	SuccessCard   string
	WebhookSecret string
}

// SandboxProvider settles payments locally without any network call.
type SandboxProvider struct {
	successCard   string
	webhookSecret string
}

func NewSandboxProvider(cfg SandboxConfig) *SandboxProvider {
	successCard := digitsOnly(cfg.SuccessCard)
	if successCard == "" {
		successCard = defaultSandboxSuccessCard
	}
	return &SandboxProvider{
		successCard:   successCard,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
	}
}

func (p *SandboxProvider) Name() string {
	return GatewaySandbox
}

func (p *SandboxProvider) CreatePayment(_ context.Context, input *CreateInput) (*Outcome, error) {
	outcome := &Outcome{
		Final:            true,
		GatewayReference: "sandbox_" + uuid.NewString(),
		PaymentRef:       strconv.FormatUint(input.PaymentID, 10),
	}

	switch {
	case input.Card == nil:
		outcome.Status = entity.PaymentStatusFailed
		outcome.FailureReason = "card_required"
	case digitsOnly(input.Card.Number) == p.successCard:
		outcome.Status = entity.PaymentStatusPaid
	default:
		outcome.Status = entity.PaymentStatusFailed
		outcome.FailureReason = "card_declined"
	}

	return outcome, nil
}

// MapInboundEvent accepts events signed with a hex HMAC-SHA256 of the raw payload.
func (p *SandboxProvider) MapInboundEvent(_ context.Context, payload []byte, signature string) (*Outcome, error) {
	if p.webhookSecret == "" {
		return nil, fmt.Errorf("%w: sandbox webhook secret", ErrNotConfigured)
	}
	if !verifyHexHMAC(payload, signature, []byte(p.webhookSecret)) {
		return nil, ErrSignatureInvalid
	}

	var event struct {
		Reference string `json:"reference"`
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
		Final     bool   `json:"final"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	status, final := defaultStatusTable.Resolve(event.Status, event.Final)
	outcome := &Outcome{
		Status:           status,
		Final:            final,
		GatewayReference: strings.TrimSpace(event.Reference),
		PaymentRef:       strings.TrimSpace(event.PaymentID),
		EventType:        "sandbox." + strings.ToLower(strings.TrimSpace(event.Status)),
	}
	if status == entity.PaymentStatusFailed {
		outcome.FailureReason = strings.ToLower(strings.TrimSpace(event.Status))
	}
	return outcome, nil
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
