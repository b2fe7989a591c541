package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/envelope"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
)

const (
	defaultCardGateCreateMethod = "card.payment"
	defaultCardGateStatusMethod = "payment.status"
	defaultCardGateLang         = "en"

	// The gateway uses different codes for "paid" depending on the method:
	// the synchronous payment call answers 100, the status call answers 1.
	// Both only count when final=1.
	cardGateSyncPaidStatus   = 100
	cardGateStatusPaidStatus = 1
)

type CardGateConfig struct {
	BaseURL         string
	MerchantPointID string
	Lang            string
	CreateMethod    string
	StatusMethod    string
	HTTPTimeout     time.Duration
}

type CardGateProvider struct {
	cfg      CardGateConfig
	envelope *envelope.Envelope
	armer    ProbeArmer
	client   *http.Client
	logger   logrus.FieldLogger
}

func NewCardGateProvider(cfg CardGateConfig, env *envelope.Envelope, armer ProbeArmer) *CardGateProvider {
	if strings.TrimSpace(cfg.Lang) == "" {
		cfg.Lang = defaultCardGateLang
	}
	if strings.TrimSpace(cfg.CreateMethod) == "" {
		cfg.CreateMethod = defaultCardGateCreateMethod
	}
	if strings.TrimSpace(cfg.StatusMethod) == "" {
		cfg.StatusMethod = defaultCardGateStatusMethod
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &CardGateProvider{
		cfg:      cfg,
		envelope: env,
		armer:    armer,
		client:   newHTTPClient(cfg.HTTPTimeout),
		logger:   factory.NewModuleLogger("provider-cardgate"),
	}
}

func (p *CardGateProvider) Name() string {
	return GatewayCardGate
}

type cardGateRequest struct {
	MerchantPointID string `json:"merchant_point_id"`
	Method          string `json:"method"`
	Info            string `json:"info"`
	Key             string `json:"key"`
	Sign            string `json:"sign"`
	Lang            string `json:"lang"`
}

type cardGatePaymentInfo struct {
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`

	CardNumber   string `json:"card_number"`
	CardExpMonth string `json:"card_exp_month"`
	CardExpYear  string `json:"card_exp_year"`
	CardCVV      string `json:"card_cvv"`
	CardHolder   string `json:"card_holder,omitempty"`

	Email     string `json:"email,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	SuccessURL string `json:"success_url,omitempty"`
	FailURL    string `json:"fail_url,omitempty"`
}

type cardGateResult struct {
	Status    json.RawMessage `json:"status"`
	Final     json.RawMessage `json:"final"`
	PaymentID json.RawMessage `json:"payment_id"`
	OrderID   json.RawMessage `json:"order_id"`
	ThreeDS   string          `json:"3ds_url"`
	Desc      string          `json:"desc"`
	Message   string          `json:"message"`
}

func (p *CardGateProvider) CreatePayment(ctx context.Context, input *CreateInput) (*Outcome, error) {
	if input.Card == nil {
		return nil, errors.New("cardgate requires card details")
	}

	info := cardGatePaymentInfo{
		OrderID:      strconv.FormatUint(input.PaymentID, 10),
		Amount:       input.Amount.StringFixed(2),
		Currency:     strings.ToUpper(input.Currency),
		Description:  input.Description,
		CardNumber:   input.Card.Number,
		CardExpMonth: input.Card.ExpMonth,
		CardExpYear:  input.Card.ExpYear,
		CardCVV:      input.Card.CVV,
		CardHolder:   input.Card.Holder,
		Email:        input.CustomerEmail,
		IP:           input.CustomerIP,
		UserAgent:    input.CustomerUserAgent,
		SuccessURL:   input.SuccessURL,
		FailURL:      input.FailURL,
	}

	result, err := p.call(ctx, p.cfg.CreateMethod, info)
	if err != nil {
		return nil, err
	}

	outcome := mapCardGateResult(result, cardGateSyncPaidStatus)
	outcome.PaymentRef = info.OrderID
	if outcome.Final {
		return outcome, nil
	}

	reference := outcome.GatewayReference
	if reference == "" {
		reference = info.OrderID
	}
	if p.armer != nil {
		if err := p.armer.Arm(ctx, input.PaymentID, p.Name(), reference); err != nil {
			p.logger.WithError(err).WithField("payment_id", input.PaymentID).Error("Failed to arm status probes")
		}
	}

	return outcome, nil
}

func (p *CardGateProvider) CheckStatus(ctx context.Context, reference string) (*Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("cardgate status check requires a reference")
	}

	result, err := p.call(ctx, p.cfg.StatusMethod, map[string]string{"payment_id": reference})
	if err != nil {
		return nil, err
	}

	outcome := mapCardGateResult(result, cardGateStatusPaidStatus)
	if outcome.GatewayReference == "" {
		outcome.GatewayReference = reference
	}
	return outcome, nil
}

// MapInboundEvent handles the gateway's server-to-server notification. The
// body uses the same envelope as responses; the signature travels inside it.
func (p *CardGateProvider) MapInboundEvent(_ context.Context, payload []byte, _ string) (*Outcome, error) {
	if p.envelope == nil {
		return nil, fmt.Errorf("%w: cardgate envelope keys", ErrNotConfigured)
	}

	plaintext, encrypted, err := p.envelope.DecodeResponse(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if !encrypted {
		return nil, fmt.Errorf("%w: cardgate notification is not enveloped", ErrSignatureInvalid)
	}

	var result cardGateResult
	if err := json.Unmarshal(plaintext, &result); err != nil {
		return nil, err
	}

	outcome := mapCardGateResult(&result, cardGateStatusPaidStatus)
	outcome.PaymentRef = parseStringish(result.OrderID)
	outcome.EventType = "cardgate.notification"
	return outcome, nil
}

func (p *CardGateProvider) call(ctx context.Context, method string, info interface{}) (*cardGateResult, error) {
	if p.envelope == nil {
		return nil, fmt.Errorf("%w: cardgate envelope keys", ErrNotConfigured)
	}
	if p.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: cardgate base url", ErrNotConfigured)
	}

	plaintext, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	sealed, err := p.envelope.Seal(plaintext)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(cardGateRequest{
		MerchantPointID: p.cfg.MerchantPointID,
		Method:          method,
		Info:            sealed.CipherText,
		Key:             sealed.EncryptedKey,
		Sign:            sealed.Signature,
		Lang:            p.cfg.Lang,
	})
	if err != nil {
		return nil, err
	}

	p.logger.WithField("method", method).WithField("payload", envelope.RedactJSON(plaintext)).Debug("cardgate request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, err := doRequest(p.client, req, GatewayCardGate)
	if err != nil {
		return nil, err
	}

	decoded, encrypted, err := p.envelope.DecodeResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("%w: cardgate %s response: %w", ErrTransport, method, err)
	}
	if !encrypted {
		p.logger.WithField("method", method).Debug("cardgate answered in plaintext")
	}

	var result cardGateResult
	if err := json.Unmarshal(decoded, &result); err != nil {
		return nil, fmt.Errorf("%w: cardgate %s response: %v", ErrTransport, method, err)
	}
	return &result, nil
}

func mapCardGateResult(result *cardGateResult, paidStatus int64) *Outcome {
	status, _ := parseIntish(result.Status)
	final, _ := parseIntish(result.Final)

	outcome := &Outcome{
		GatewayReference: parseStringish(result.PaymentID),
		GatewayOrderID:   parseStringish(result.OrderID),
	}

	switch {
	case final == 1 && status == paidStatus:
		outcome.Status = entity.PaymentStatusPaid
		outcome.Final = true
	case final == 1:
		outcome.Status = entity.PaymentStatusFailed
		outcome.Final = true
		outcome.FailureReason = firstNonEmpty(result.Desc, result.Message, "declined with status "+strconv.FormatInt(status, 10))
	default:
		outcome.Status = entity.PaymentStatusPending
		outcome.ChallengeURL = strings.TrimSpace(result.ThreeDS)
	}

	return outcome
}
