package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/mapper"
)

const (
	EventPaymentSuccess    = "payment.success"
	EventPaymentFailed     = "payment.failed"
	EventPaymentExpired    = "payment.expired"
	EventPaymentRefund     = "payment.refund"
	EventPaymentChargeback = "payment.chargeback"

	SignatureHeader = "X-Webhook-Signature"

	defaultWebhookTimeout = 10 * time.Second
	maxResponseSnapshot   = 1024
)

type webhookLogRepository interface {
	Create(ctx context.Context, log *entity.WebhookLog) error
}

type shopRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Shop, error)
}

type paymentLinkRepository interface {
	IncrementUsage(ctx context.Context, id uint64, now time.Time) error
}

type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type Publisher interface {
	Publish(ctx context.Context, event *StatusChangedEvent) error
}

type Config struct {
	WebhookTimeout time.Duration
}

// Dispatcher fans a terminal transition out to the audit log, the merchant
// webhook, the operator alert and the event stream. Each channel fails on
// its own; none of them can change the payment.
type Dispatcher struct {
	logs      webhookLogRepository
	shops     shopRepository
	links     paymentLinkRepository
	client    *http.Client
	alerter   Alerter
	publisher Publisher
	logger    logrus.FieldLogger
	now       func() time.Time

	wg sync.WaitGroup
}

func NewDispatcher(
	cfg Config,
	logs webhookLogRepository,
	shops shopRepository,
	links paymentLinkRepository,
	alerter Alerter,
	publisher Publisher,
) *Dispatcher {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &Dispatcher{
		logs:      logs,
		shops:     shops,
		links:     links,
		client:    &http.Client{Timeout: timeout},
		alerter:   alerter,
		publisher: publisher,
		logger:    factory.NewModuleLogger("notification-dispatcher"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EventName maps a terminal status to the merchant event name.
func EventName(status entity.PaymentStatus) string {
	switch status {
	case entity.PaymentStatusPaid:
		return EventPaymentSuccess
	case entity.PaymentStatusFailed:
		return EventPaymentFailed
	case entity.PaymentStatusExpired:
		return EventPaymentExpired
	case entity.PaymentStatusRefund:
		return EventPaymentRefund
	case entity.PaymentStatusChargeback:
		return EventPaymentChargeback
	default:
		return ""
	}
}

// Dispatch must be called once per committed transition. The audit log and
// the link counter are written before it returns; the webhook, the alert and
// the published event run in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, payment *entity.Payment, previous entity.PaymentStatus) {
	if payment == nil {
		return
	}
	event := EventName(payment.Status)
	if event == "" {
		return
	}

	logger := d.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"shop_id":    payment.ShopID,
		"event":      event,
	})
	now := d.now()

	if err := d.logs.Create(ctx, &entity.WebhookLog{
		PaymentID: payment.ID,
		ShopID:    payment.ShopID,
		Event:     event,
		Direction: entity.WebhookDirectionInternal,
		CreatedAt: now,
	}); err != nil {
		logger.WithError(err).Error("Failed to append internal webhook log")
	}

	if payment.Status == entity.PaymentStatusPaid && payment.PaymentLinkID != nil && d.links != nil {
		if err := d.links.IncrementUsage(ctx, *payment.PaymentLinkID, now); err != nil {
			logger.WithError(err).WithField("payment_link_id", *payment.PaymentLinkID).Error("Failed to increment payment link usage")
		}
	}

	snapshot := *payment
	background := context.WithoutCancel(ctx)

	d.goSafe(logger, func() { d.deliverWebhook(background, logger, event, &snapshot) })

	if d.alerter != nil && (payment.Status == entity.PaymentStatusPaid || payment.Status == entity.PaymentStatusFailed) {
		d.goSafe(logger, func() {
			if err := d.alerter.Alert(background, formatTransitionAlert(&snapshot)); err != nil {
				logger.WithError(err).Warn("Operator alert failed")
			}
		})
	}

	if d.publisher != nil {
		d.goSafe(logger, func() {
			if err := d.publisher.Publish(background, NewStatusChangedEvent(&snapshot, previous, now)); err != nil {
				logger.WithError(err).Warn("Status change publish failed")
			}
		})
	}
}

// Wait blocks until every background delivery started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) goSafe(logger logrus.FieldLogger, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", r).Error("Notification goroutine panicked")
			}
		}()
		fn()
	}()
}

func (d *Dispatcher) deliverWebhook(ctx context.Context, logger logrus.FieldLogger, event string, payment *entity.Payment) {
	shop, err := d.shops.FindByID(ctx, payment.ShopID)
	if err != nil {
		logger.WithError(err).Error("Failed to load shop for webhook")
		return
	}
	if shop == nil || strings.TrimSpace(shop.WebhookURL) == "" || !shop.EventEnabled(event) {
		logger.Debug("Webhook not configured for event")
		return
	}

	body, err := json.Marshal(mapper.PaymentToWebhook(event, payment))
	if err != nil {
		logger.WithError(err).Error("Failed to encode webhook payload")
		return
	}

	code, snapshot, sendErr := d.post(ctx, shop, body)
	if sendErr != nil {
		logger.WithError(sendErr).Warn("Webhook delivery failed")
	} else if code < 200 || code >= 300 {
		logger.WithField("response_code", code).Warn("Webhook endpoint returned non-2xx")
	} else {
		logger.Info("Webhook delivered")
	}

	entry := &entity.WebhookLog{
		PaymentID:    payment.ID,
		ShopID:       payment.ShopID,
		Event:        event,
		Direction:    entity.WebhookDirectionOutbound,
		ResponseBody: &snapshot,
		CreatedAt:    d.now(),
	}
	if sendErr == nil {
		entry.ResponseCode = &code
	}
	if err := d.logs.Create(ctx, entry); err != nil {
		logger.WithError(err).Error("Failed to append outbound webhook log")
	}
}

func (d *Dispatcher) post(ctx context.Context, shop *entity.Shop, body []byte) (int32, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, shop.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, truncate(err.Error(), maxResponseSnapshot), err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := strings.TrimSpace(shop.WebhookSecret); secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, truncate(err.Error(), maxResponseSnapshot), err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSnapshot))
	return int32(resp.StatusCode), string(raw), nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func formatTransitionAlert(payment *entity.Payment) string {
	text := fmt.Sprintf("Payment #%d %s\nshop: %d\norder: %s\ngateway: %s\namount: %s %s",
		payment.ID,
		payment.Status,
		payment.ShopID,
		payment.OrderID,
		payment.Gateway,
		payment.Amount.StringFixed(2),
		payment.Currency,
	)
	if payment.FailureReason != nil && *payment.FailureReason != "" {
		text += "\nreason: " + *payment.FailureReason
	}
	return text
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
