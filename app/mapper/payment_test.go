package mapper

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

func TestPaymentToResponse(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	paid := created.Add(time.Minute)
	last4 := "4242"
	ref := "cs_1"
	linkID := uint64(9)

	resp := PaymentToResponse(&entity.Payment{
		ID:               5,
		ShopID:           2,
		OrderID:          "order-5",
		Gateway:          "stripe",
		GatewayPaymentID: &ref,
		Amount:           decimal.RequireFromString("10.5"),
		Currency:         "EUR",
		Status:           entity.PaymentStatusPaid,
		CardLast4:        &last4,
		PaymentLinkID:    &linkID,
		CreatedAt:        created,
		UpdatedAt:        paid,
		PaidAt:           &paid,
	})

	if resp.Amount != "10.50" || resp.Status != "PAID" || resp.CardLast4 != "4242" || resp.PaymentLinkId != 9 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.GatewayPaymentId != "cs_1" || resp.GatewayOrderId != "" {
		t.Fatalf("unexpected gateway ids: %+v", resp)
	}
	if resp.CreatedAt != "2026-03-01T10:00:00Z" || resp.PaidAt != "2026-03-01T10:01:00Z" {
		t.Fatalf("unexpected timestamps: %s %s", resp.CreatedAt, resp.PaidAt)
	}
	if PaymentToResponse(nil) != nil {
		t.Fatal("expected nil for nil payment")
	}
}

func TestPaymentToWebhookKeepsNullFields(t *testing.T) {
	payload := PaymentToWebhook("payment.failed", &entity.Payment{
		ID:        3,
		OrderID:   "order-3",
		Gateway:   "sandbox",
		Amount:    decimal.NewFromInt(7),
		Currency:  "USD",
		Status:    entity.PaymentStatusFailed,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	})

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(raw)
	for _, fragment := range []string{
		`"event":"payment.failed"`,
		`"status":"failed"`,
		`"amount":"7.00"`,
		`"paid_at":null`,
		`"gateway_payment_id":null`,
		`"customer_email":null`,
	} {
		if !strings.Contains(body, fragment) {
			t.Fatalf("expected %s in %s", fragment, body)
		}
	}
}
