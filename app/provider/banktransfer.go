package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type BankTransferConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

// BankTransferProvider talks to a bank-transfer proxy that hosts the
// transfer page and reports completion through a signed webhook.
type BankTransferProvider struct {
	cfg      BankTransferConfig
	client   *http.Client
	statuses StatusTable
}

func NewBankTransferProvider(cfg BankTransferConfig) *BankTransferProvider {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &BankTransferProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.HTTPTimeout),
		statuses: defaultStatusTable.with(StatusTable{
			"created":   entity.PaymentStatusPending,
			"completed": entity.PaymentStatusPaid,
			"rejected":  entity.PaymentStatusFailed,
		}),
	}
}

func (p *BankTransferProvider) Name() string {
	return GatewayBankTransfer
}

type bankTransferCreateRequest struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	SuccessURL  string `json:"success_url,omitempty"`
	FailURL     string `json:"fail_url,omitempty"`
}

type bankTransferState struct {
	ID          json.RawMessage `json:"id"`
	Reference   string          `json:"reference"`
	Status      string          `json:"status"`
	Final       bool            `json:"final"`
	Reason      string          `json:"reason"`
	RedirectURL string          `json:"redirect_url"`
}

func (p *BankTransferProvider) CreatePayment(ctx context.Context, input *CreateInput) (*Outcome, error) {
	if p.cfg.BaseURL == "" || strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: banktransfer base url or api key", ErrNotConfigured)
	}

	paymentRef := strconv.FormatUint(input.PaymentID, 10)
	payload, err := json.Marshal(bankTransferCreateRequest{
		Reference:   paymentRef,
		Amount:      input.Amount.StringFixed(2),
		Currency:    strings.ToUpper(input.Currency),
		Description: input.Description,
		Email:       input.CustomerEmail,
		Name:        input.CustomerName,
		SuccessURL:  input.SuccessURL,
		FailURL:     input.FailURL,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/transfers", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	body, err := doRequest(p.client, req, GatewayBankTransfer)
	if err != nil {
		return nil, err
	}

	var state bankTransferState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("%w: banktransfer create: %v", ErrTransport, err)
	}

	return &Outcome{
		Status:           entity.PaymentStatusPending,
		GatewayReference: parseStringish(state.ID),
		PaymentRef:       paymentRef,
		RedirectURL:      strings.TrimSpace(state.RedirectURL),
	}, nil
}

func (p *BankTransferProvider) CheckStatus(ctx context.Context, reference string) (*Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("banktransfer status check requires a transfer id")
	}
	if p.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: banktransfer base url", ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/transfers/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	body, err := doRequest(p.client, req, GatewayBankTransfer)
	if err != nil {
		return nil, err
	}

	var state bankTransferState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("%w: banktransfer status: %v", ErrTransport, err)
	}

	outcome := p.mapState(&state)
	if outcome.GatewayReference == "" {
		outcome.GatewayReference = reference
	}
	return outcome, nil
}

func (p *BankTransferProvider) MapInboundEvent(_ context.Context, payload []byte, signature string) (*Outcome, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: banktransfer webhook secret", ErrNotConfigured)
	}
	if !verifyHexHMAC(payload, signature, []byte(p.cfg.WebhookSecret)) {
		return nil, ErrSignatureInvalid
	}

	var state bankTransferState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, err
	}

	outcome := p.mapState(&state)
	outcome.EventType = "banktransfer." + strings.ToLower(strings.TrimSpace(state.Status))
	return outcome, nil
}

func (p *BankTransferProvider) mapState(state *bankTransferState) *Outcome {
	status, final := p.statuses.Resolve(state.Status, state.Final)
	outcome := &Outcome{
		Status:           status,
		Final:            final,
		GatewayReference: parseStringish(state.ID),
		PaymentRef:       strings.TrimSpace(state.Reference),
	}
	if status == entity.PaymentStatusFailed {
		outcome.FailureReason = firstNonEmpty(state.Reason, state.Status)
	}
	return outcome
}
