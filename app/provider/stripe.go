package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const defaultStripeBaseURL = "https://api.stripe.com"

type StripeConfig struct {
	BaseURL                   string
	SecretKey                 string
	WebhookSecret             string
	ReturnBaseURL             string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type StripeProvider struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	tolerance := cfg.SignatureToleranceSeconds
	if tolerance <= 0 {
		tolerance = 300
	}
	cfg.SignatureToleranceSeconds = tolerance
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultStripeBaseURL
	}

	return &StripeProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.HTTPTimeout),
	}
}

func (p *StripeProvider) Name() string {
	return GatewayStripe
}

func (p *StripeProvider) CreatePayment(ctx context.Context, input *CreateInput) (*Outcome, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, fmt.Errorf("%w: stripe secret key", ErrNotConfigured)
	}

	paymentRef := strconv.FormatUint(input.PaymentID, 10)
	returnURL := joinCallbackURL(p.cfg.ReturnBaseURL, paymentRef)

	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(input.Currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(input.Amount.Shift(2).IntPart(), 10))
	values.Set("line_items[0][price_data][product_data][name]", buildProductName(input))

	successURL := strings.TrimSpace(input.SuccessURL)
	cancelURL := strings.TrimSpace(input.FailURL)
	if successURL == "" && returnURL != "" {
		successURL = returnURL + "?state=success"
	}
	if cancelURL == "" && returnURL != "" {
		cancelURL = returnURL + "?state=cancel"
	}
	if successURL == "" {
		return nil, fmt.Errorf("%w: stripe return url", ErrNotConfigured)
	}
	values.Set("success_url", successURL)
	if cancelURL != "" {
		values.Set("cancel_url", cancelURL)
	}
	values.Set("client_reference_id", paymentRef)
	if email := strings.TrimSpace(input.CustomerEmail); email != "" {
		values.Set("customer_email", email)
	}
	values.Set("metadata[payment_id]", paymentRef)
	values.Set("metadata[order_id]", input.OrderID)
	values.Set("metadata[request_id]", input.RequestID)

	body, err := p.postForm(ctx, "/v1/checkout/sessions", values)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: stripe checkout session: %v", ErrTransport, err)
	}

	return &Outcome{
		Status:           entity.PaymentStatusPending,
		GatewayReference: strings.TrimSpace(payload.ID),
		PaymentRef:       paymentRef,
		RedirectURL:      strings.TrimSpace(payload.URL),
	}, nil
}

func (p *StripeProvider) CheckStatus(ctx context.Context, reference string) (*Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return &Outcome{Status: entity.PaymentStatusPending}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/checkout/sessions/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)

	body, err := doRequest(p.client, req, GatewayStripe)
	if err != nil {
		return nil, err
	}

	var session stripeCheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("%w: stripe checkout session: %v", ErrTransport, err)
	}

	outcome := session.outcome()
	if outcome.GatewayReference == "" {
		outcome.GatewayReference = reference
	}
	return outcome, nil
}

func (p *StripeProvider) MapInboundEvent(_ context.Context, payload []byte, signature string) (*Outcome, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret", ErrNotConfigured)
	}
	if !verifyStripeSignature(payload, signature, p.cfg.WebhookSecret, p.cfg.SignatureToleranceSeconds) {
		return nil, ErrSignatureInvalid
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	var session stripeCheckoutSession
	assignCheckoutSessionFields(&session, event.Data.Object)

	outcome := &Outcome{
		Status:           entity.PaymentStatusPending,
		GatewayReference: session.ID,
		PaymentRef:       session.ClientReferenceID,
		EventType:        event.Type,
	}

	switch event.Type {
	case "checkout.session.completed":
		mapped := session.outcome()
		outcome.Status, outcome.Final = mapped.Status, mapped.Final
	case "checkout.session.async_payment_succeeded":
		outcome.Status, outcome.Final = entity.PaymentStatusPaid, true
	case "checkout.session.async_payment_failed":
		outcome.Status, outcome.Final = entity.PaymentStatusFailed, true
		outcome.FailureReason = "async_payment_failed"
	case "checkout.session.expired":
		outcome.Status, outcome.Final = entity.PaymentStatusExpired, true
	}

	return outcome, nil
}

type stripeCheckoutSession struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	PaymentStatus     string `json:"payment_status"`
	ClientReferenceID string `json:"client_reference_id"`
	URL               string `json:"url"`
}

func (s *stripeCheckoutSession) outcome() *Outcome {
	outcome := &Outcome{
		Status:           entity.PaymentStatusPending,
		GatewayReference: strings.TrimSpace(s.ID),
		PaymentRef:       strings.TrimSpace(s.ClientReferenceID),
	}

	if strings.EqualFold(s.Status, "expired") {
		outcome.Status, outcome.Final = entity.PaymentStatusExpired, true
		return outcome
	}

	switch strings.ToLower(s.PaymentStatus) {
	case "paid", "no_payment_required":
		outcome.Status, outcome.Final = entity.PaymentStatusPaid, true
	}
	return outcome
}

func (p *StripeProvider) postForm(ctx context.Context, path string, values url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doRequest(p.client, req, GatewayStripe)
}

func buildProductName(input *CreateInput) string {
	if name := strings.TrimSpace(input.Description); name != "" {
		return name
	}
	if orderID := strings.TrimSpace(input.OrderID); orderID != "" {
		return "order-" + orderID
	}
	return "payment"
}

func joinCallbackURL(baseURL, paymentRef string) string {
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	paymentRef = strings.TrimSpace(paymentRef)
	if baseURL == "" || paymentRef == "" {
		return ""
	}
	return baseURL + "/" + paymentRef
}

func verifyStripeSignature(payload []byte, signatureHeader string, webhookSecret string, toleranceSeconds int64) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}

	parts := strings.Split(signatureHeader, ",")
	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().Unix()
	if now-tsUnix > toleranceSeconds || tsUnix-now > toleranceSeconds {
		return false
	}

	signedPayload := []byte(ts + "." + string(payload))
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write(signedPayload)
	expected := mac.Sum(nil)

	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}

	return false
}

func assignCheckoutSessionFields(session *stripeCheckoutSession, payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	if json.Unmarshal(payload, session) != nil {
		return
	}
	session.ID = strings.TrimSpace(session.ID)
	session.ClientReferenceID = strings.TrimSpace(session.ClientReferenceID)
}
