package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
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

const defaultCryptoPayBaseURL = "https://pay.crypt.bot/api"

type CryptoPayConfig struct {
	BaseURL         string
	APIToken        string
	AcceptedAssets  string
	ExpiresInSecond int64
	HTTPTimeout     time.Duration
}

type CryptoPayProvider struct {
	cfg      CryptoPayConfig
	client   *http.Client
	statuses StatusTable
}

func NewCryptoPayProvider(cfg CryptoPayConfig) *CryptoPayProvider {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCryptoPayBaseURL
	}

	return &CryptoPayProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.HTTPTimeout),
		statuses: defaultStatusTable.with(StatusTable{
			"active": entity.PaymentStatusPending,
		}),
	}
}

func (p *CryptoPayProvider) Name() string {
	return GatewayCryptoPay
}

type cryptoPayInvoiceRequest struct {
	CurrencyType   string `json:"currency_type"`
	Fiat           string `json:"fiat"`
	AcceptedAssets string `json:"accepted_assets,omitempty"`
	Amount         string `json:"amount"`
	Description    string `json:"description,omitempty"`
	Payload        string `json:"payload"`
	ExpiresIn      int64  `json:"expires_in,omitempty"`
}

type cryptoPayInvoice struct {
	InvoiceID     json.RawMessage `json:"invoice_id"`
	Status        string          `json:"status"`
	PayURL        string          `json:"pay_url"`
	BotInvoiceURL string          `json:"bot_invoice_url"`
	Payload       string          `json:"payload"`
}

type cryptoPayResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (p *CryptoPayProvider) CreatePayment(ctx context.Context, input *CreateInput) (*Outcome, error) {
	if strings.TrimSpace(p.cfg.APIToken) == "" {
		return nil, fmt.Errorf("%w: cryptopay api token", ErrNotConfigured)
	}

	paymentRef := strconv.FormatUint(input.PaymentID, 10)
	payload, err := json.Marshal(cryptoPayInvoiceRequest{
		CurrencyType:   "fiat",
		Fiat:           strings.ToUpper(input.Currency),
		AcceptedAssets: p.cfg.AcceptedAssets,
		Amount:         input.Amount.StringFixed(2),
		Description:    input.Description,
		Payload:        paymentRef,
		ExpiresIn:      p.cfg.ExpiresInSecond,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/createInvoice", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	result, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var invoice cryptoPayInvoice
	if err := json.Unmarshal(result, &invoice); err != nil {
		return nil, fmt.Errorf("%w: cryptopay invoice: %v", ErrTransport, err)
	}

	// A freshly created invoice is always awaiting payment.
	return &Outcome{
		Status:           entity.PaymentStatusPending,
		GatewayReference: parseStringish(invoice.InvoiceID),
		PaymentRef:       paymentRef,
		RedirectURL:      firstNonEmpty(invoice.BotInvoiceURL, invoice.PayURL),
	}, nil
}

func (p *CryptoPayProvider) CheckStatus(ctx context.Context, reference string) (*Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("cryptopay status check requires an invoice id")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/getInvoices?invoice_ids="+url.QueryEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	result, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var page struct {
		Items []cryptoPayInvoice `json:"items"`
	}
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, fmt.Errorf("%w: cryptopay invoices: %v", ErrTransport, err)
	}
	for _, invoice := range page.Items {
		if parseStringish(invoice.InvoiceID) == reference {
			return p.mapInvoice(&invoice), nil
		}
	}

	return &Outcome{Status: entity.PaymentStatusPending, GatewayReference: reference}, nil
}

// MapInboundEvent verifies crypto-pay-api-signature: hex HMAC-SHA256 of the
// raw body keyed with SHA-256 of the API token.
func (p *CryptoPayProvider) MapInboundEvent(_ context.Context, payload []byte, signature string) (*Outcome, error) {
	if strings.TrimSpace(p.cfg.APIToken) == "" {
		return nil, fmt.Errorf("%w: cryptopay api token", ErrNotConfigured)
	}
	secret := sha256.Sum256([]byte(p.cfg.APIToken))
	if !verifyHexHMAC(payload, signature, secret[:]) {
		return nil, ErrSignatureInvalid
	}

	var update struct {
		UpdateID   json.RawMessage  `json:"update_id"`
		UpdateType string           `json:"update_type"`
		Payload    cryptoPayInvoice `json:"payload"`
	}
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, err
	}

	outcome := p.mapInvoice(&update.Payload)
	outcome.EventType = update.UpdateType
	return outcome, nil
}

func (p *CryptoPayProvider) mapInvoice(invoice *cryptoPayInvoice) *Outcome {
	status, final := p.statuses.Resolve(invoice.Status, false)
	outcome := &Outcome{
		Status:           status,
		Final:            final,
		GatewayReference: parseStringish(invoice.InvoiceID),
		PaymentRef:       strings.TrimSpace(invoice.Payload),
		RedirectURL:      firstNonEmpty(invoice.BotInvoiceURL, invoice.PayURL),
	}
	if status == entity.PaymentStatusFailed {
		outcome.FailureReason = strings.ToLower(strings.TrimSpace(invoice.Status))
	}
	return outcome
}

func (p *CryptoPayProvider) do(req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Crypto-Pay-API-Token", p.cfg.APIToken)

	body, err := doRequest(p.client, req, GatewayCryptoPay)
	if err != nil {
		return nil, err
	}

	var resp cryptoPayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: cryptopay response: %v", ErrTransport, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("%w: cryptopay api error: %s", ErrTransport, truncate(string(resp.Error), 256))
	}
	return resp.Result, nil
}
