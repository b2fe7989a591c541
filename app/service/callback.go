package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/lock"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
)

// HandleProviderEvent verifies an inbound provider notification and applies
// it to the payment it refers to.
func (s *PaymentService) HandleProviderEvent(ctx context.Context, req *types.HandleProviderEventRequest) (*entity.Payment, error) {
	if req == nil || len(req.Payload) == 0 {
		return nil, ErrInvalidRequest
	}

	providerClient, err := s.providerReg.Get(req.Provider)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}
	gateway := providerClient.Name()
	logger := s.logger.WithFields(logrus.Fields{
		"gateway":    gateway,
		"request_id": req.RequestId,
	})

	outcome, err := providerClient.MapInboundEvent(ctx, req.Payload, strings.TrimSpace(req.Signature))
	if err != nil {
		logger.WithError(err).Warn("Provider event rejected")
		return nil, fmt.Errorf("%w: %v", ErrCallbackRejected, err)
	}

	payment, err := s.resolveEventPayment(ctx, gateway, outcome)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		logger.WithFields(logrus.Fields{
			"gateway_reference": outcome.GatewayReference,
			"payment_ref":       outcome.PaymentRef,
		}).Warn("Provider event does not match any payment")
		return nil, ErrPaymentNotFound
	}

	unlock, err := s.locker.Lock(ctx, lock.PaymentKey(payment.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; the lookup above raced with other writers.
	payment, err = s.GetPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	eventType := strings.TrimSpace(outcome.EventType)
	if eventType == "" {
		eventType = gateway + ".event"
	}
	if err := s.webhookLogRepo.Create(ctx, &entity.WebhookLog{
		PaymentID: payment.ID,
		ShopID:    payment.ShopID,
		Event:     "inbound:" + eventType,
		Direction: entity.WebhookDirectionInternal,
		CreatedAt: s.now(),
	}); err != nil {
		logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to record provider event")
	}

	return s.applyOutcome(ctx, payment, outcome, "webhook:"+gateway)
}

func (s *PaymentService) resolveEventPayment(ctx context.Context, gateway string, outcome *provider.Outcome) (*entity.Payment, error) {
	if reference := strings.TrimSpace(outcome.GatewayReference); reference != "" {
		payment, err := s.paymentRepo.FindByGatewayReference(ctx, gateway, reference)
		if err != nil || payment != nil {
			return payment, err
		}
	}

	id, err := strconv.ParseUint(strings.TrimSpace(outcome.PaymentRef), 10, 64)
	if err != nil || id == 0 {
		return nil, nil
	}
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil || payment == nil {
		return payment, err
	}
	if payment.Gateway != gateway {
		return nil, nil
	}
	return payment, nil
}
