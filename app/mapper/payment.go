package mapper

import (
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
)

func PaymentToResponse(item *entity.Payment) *types.Payment {
	if item == nil {
		return nil
	}

	return &types.Payment{
		Id:               item.ID,
		ShopId:           item.ShopID,
		OrderId:          item.OrderID,
		Gateway:          item.Gateway,
		GatewayOrderId:   derefString(item.GatewayOrderID),
		GatewayPaymentId: derefString(item.GatewayPaymentID),
		Amount:           item.Amount.StringFixed(2),
		Currency:         item.Currency,
		Status:           string(item.Status),
		PaymentMethod:    item.PaymentMethod,
		CardLast4:        derefString(item.CardLast4),
		PaymentLinkId:    derefUint64(item.PaymentLinkID),
		RedirectUrl:      derefString(item.RedirectURL),
		ChallengeUrl:     derefString(item.ChallengeURL),
		FailureReason:    derefString(item.FailureReason),
		CreatedAt:        formatTime(item.CreatedAt),
		UpdatedAt:        formatTime(item.UpdatedAt),
		PaidAt:           derefString(formatTimePtr(item.PaidAt)),
	}
}

// PaymentToWebhook builds the merchant webhook body. Nullable fields stay
// null on the wire instead of being omitted.
func PaymentToWebhook(event string, item *entity.Payment) *types.WebhookPayload {
	if item == nil {
		return nil
	}

	return &types.WebhookPayload{
		Event: event,
		Payment: &types.WebhookPayment{
			Id:               item.ID,
			OrderId:          item.OrderID,
			GatewayOrderId:   item.GatewayOrderID,
			Gateway:          item.Gateway,
			Amount:           item.Amount.StringFixed(2),
			Currency:         item.Currency,
			Status:           strings.ToLower(string(item.Status)),
			CustomerEmail:    item.CustomerEmail,
			CustomerName:     item.CustomerName,
			GatewayPaymentId: item.GatewayPaymentID,
			CreatedAt:        formatTime(item.CreatedAt),
			UpdatedAt:        formatTime(item.UpdatedAt),
			PaidAt:           formatTimePtr(item.PaidAt),
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	value := formatTime(*t)
	return &value
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
