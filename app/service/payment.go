package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/envelope"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/lifecycle"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/lock"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/notification"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

const defaultBatchSize = int32(100)

type paymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	Update(ctx context.Context, payment *entity.Payment, expected entity.PaymentStatus) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByShopOrderID(ctx context.Context, shopID uint64, orderID string) (*entity.Payment, error)
	FindByGatewayReference(ctx context.Context, gateway, reference string) (*entity.Payment, error)
	ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error)
}

type webhookLogRepository interface {
	Create(ctx context.Context, log *entity.WebhookLog) error
}

type probeJobRepository interface {
	ListUnreported(ctx context.Context, limit int32) ([]*entity.ProbeJob, error)
	MarkReported(ctx context.Context, paymentID uint64, at time.Time) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, payment *entity.Payment, previous entity.PaymentStatus)
}

type probeCanceller interface {
	Cancel(ctx context.Context, paymentID uint64) error
}

type PaymentService struct {
	paymentRepo    paymentRepository
	webhookLogRepo webhookLogRepository
	probeJobRepo   probeJobRepository
	providerReg    *provider.Registry
	locker         lock.Locker
	dispatcher     dispatcher
	probes         probeCanceller
	alerter        notification.Alerter
	paymentsCfg    config.PaymentsConfig
	logger         logrus.FieldLogger
	now            func() time.Time
}

// NewPaymentService wires the payment pipeline. probes and alerter may be
// nil, for example in one-shot job commands.
func NewPaymentService(
	paymentRepo paymentRepository,
	webhookLogRepo webhookLogRepository,
	probeJobRepo probeJobRepository,
	providerReg *provider.Registry,
	locker lock.Locker,
	dispatcher dispatcher,
	probes probeCanceller,
	alerter notification.Alerter,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		paymentRepo:    paymentRepo,
		webhookLogRepo: webhookLogRepo,
		probeJobRepo:   probeJobRepo,
		providerReg:    providerReg,
		locker:         locker,
		dispatcher:     dispatcher,
		probes:         probes,
		alerter:        alerter,
		paymentsCfg:    paymentsCfg,
		logger:         factory.NewModuleLogger("payment-service"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreatePayment is idempotent per (shop, order): a repeated request returns
// the stored payment. A stored payment the gateway never accepted is
// submitted again instead.
func (s *PaymentService) CreatePayment(ctx context.Context, req *types.CreatePaymentRequest) (*entity.Payment, error) {
	if req == nil || req.ShopId == 0 || strings.TrimSpace(req.OrderId) == "" {
		return nil, ErrInvalidRequest
	}

	existing, err := s.paymentRepo.FindByShopOrderID(ctx, req.ShopId, req.OrderId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !awaitingGateway(existing) {
			return existing, nil
		}
		return s.resubmitPayment(ctx, existing, req)
	}

	providerClient, err := s.providerReg.Get(req.Gateway)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	now := s.now()
	payment := &entity.Payment{
		ShopID:            req.ShopId,
		OrderID:           req.OrderId,
		Gateway:           providerClient.Name(),
		Amount:            req.Amount,
		Currency:          req.Currency,
		Status:            entity.PaymentStatusPending,
		PaymentMethod:     req.PaymentMethod,
		CustomerName:      optionalString(req.CustomerName),
		CustomerEmail:     optionalString(req.CustomerEmail),
		CustomerIP:        optionalString(req.CustomerIp),
		CustomerUserAgent: optionalString(req.CustomerUserAgent),
		CustomerCountry:   optionalString(req.CustomerCountry),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.PaymentLinkId > 0 {
		linkID := req.PaymentLinkId
		payment.PaymentLinkID = &linkID
	}
	if req.Card != nil {
		payment.CardLast4 = optionalString(envelope.LastFour(req.Card.Number))
		if payment.PaymentMethod == "" {
			payment.PaymentMethod = "card"
		}
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			return s.paymentRepo.FindByShopOrderID(ctx, req.ShopId, req.OrderId)
		}
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.PaymentKey(payment.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.submitPayment(ctx, providerClient, payment, req)
}

// resubmitPayment retries the gateway call for a stored payment whose first
// submission failed. The row is re-read under the lock so concurrent
// retries submit it once.
func (s *PaymentService) resubmitPayment(ctx context.Context, existing *entity.Payment, req *types.CreatePaymentRequest) (*entity.Payment, error) {
	providerClient, err := s.providerReg.Get(existing.Gateway)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.PaymentKey(existing.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	payment, err := s.GetPayment(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	if !awaitingGateway(payment) {
		return payment, nil
	}

	s.logger.WithField("payment_id", payment.ID).Info("Resubmitting payment the gateway never accepted")
	return s.submitPayment(ctx, providerClient, payment, req)
}

// submitPayment sends a stored payment to its gateway. The caller holds the
// payment lock.
func (s *PaymentService) submitPayment(
	ctx context.Context,
	providerClient provider.Provider,
	payment *entity.Payment,
	req *types.CreatePaymentRequest,
) (*entity.Payment, error) {
	requestID := strings.TrimSpace(req.RequestId)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := s.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"gateway":    payment.Gateway,
		"request_id": requestID,
	})

	var card *provider.Card
	if req.Card != nil {
		card = &provider.Card{
			Number:   req.Card.Number,
			ExpMonth: req.Card.ExpMonth,
			ExpYear:  req.Card.ExpYear,
			CVV:      req.Card.CVV,
			Holder:   req.Card.Holder,
		}
	}

	outcome, err := providerClient.CreatePayment(ctx, &provider.CreateInput{
		RequestID:         requestID,
		PaymentID:         payment.ID,
		ShopID:            payment.ShopID,
		OrderID:           payment.OrderID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Description:       req.Description,
		Card:              card,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		CustomerIP:        req.CustomerIp,
		CustomerUserAgent: req.CustomerUserAgent,
		SuccessURL:        req.SuccessUrl,
		FailURL:           req.FailUrl,
	})
	if err != nil {
		logger.WithError(err).Warn("Gateway create failed, payment left pending")
		return nil, fmt.Errorf("%w: %v", ErrGatewayCommunication, err)
	}

	return s.applyOutcome(ctx, payment, outcome, "gateway:"+payment.Gateway)
}

// awaitingGateway reports a payment that is still PENDING with nothing from
// the gateway: no reference, no redirect and no challenge.
func awaitingGateway(payment *entity.Payment) bool {
	return payment.Status == entity.PaymentStatusPending &&
		payment.GatewayPaymentID == nil &&
		payment.RedirectURL == nil &&
		payment.ChallengeURL == nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id uint64) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) Refund(ctx context.Context, req *types.AdministrativeTransitionRequest) (*entity.Payment, error) {
	return s.administrativeTransition(ctx, req, entity.PaymentStatusRefund)
}

func (s *PaymentService) Chargeback(ctx context.Context, req *types.AdministrativeTransitionRequest) (*entity.Payment, error) {
	return s.administrativeTransition(ctx, req, entity.PaymentStatusChargeback)
}

func (s *PaymentService) administrativeTransition(
	ctx context.Context,
	req *types.AdministrativeTransitionRequest,
	target entity.PaymentStatus,
) (*entity.Payment, error) {
	if req == nil || req.Id == 0 {
		return nil, ErrInvalidRequest
	}

	unlock, err := s.locker.Lock(ctx, lock.PaymentKey(req.Id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	payment, err := s.GetPayment(ctx, req.Id)
	if err != nil {
		return nil, err
	}

	previous := payment.Status
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "admin"
	}
	result, err := lifecycle.ApplyAdministrative(payment, target, "admin:"+actor, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if !result.Changed {
		return payment, nil
	}

	if err := s.paymentRepo.Update(ctx, payment, previous); err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentNotFound):
			return nil, ErrPaymentNotFound
		case errors.Is(err, repository.ErrStaleWrite):
			return nil, fmt.Errorf("%w: payment changed concurrently", ErrInvalidTransition)
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"from":       previous,
		"to":         payment.Status,
		"actor":      actor,
		"reason":     req.Reason,
	}).Info("Administrative transition applied")

	s.dispatcher.Dispatch(ctx, payment, previous)
	return payment, nil
}

// applyOutcome records a gateway outcome on a payment. The caller holds the
// payment lock. Terminal payments are returned untouched, and a payment that
// another writer settled first is reloaded instead of overwritten.
func (s *PaymentService) applyOutcome(
	ctx context.Context,
	payment *entity.Payment,
	outcome *provider.Outcome,
	changedBy string,
) (*entity.Payment, error) {
	if outcome == nil || lifecycle.IsTerminal(payment.Status) {
		return payment, nil
	}

	now := s.now()
	previous := payment.Status
	fieldsChanged := mergeOutcomeFields(payment, outcome)
	result := lifecycle.Apply(payment, outcome.Status, changedBy, now)
	if result.Changed && payment.Status == entity.PaymentStatusFailed {
		if reason := strings.TrimSpace(outcome.FailureReason); reason != "" {
			payment.FailureReason = &reason
		}
	}
	if !result.Changed && !fieldsChanged {
		return payment, nil
	}
	payment.UpdatedAt = now

	if err := s.paymentRepo.Update(ctx, payment, previous); err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentNotFound):
			return nil, ErrPaymentNotFound
		case errors.Is(err, repository.ErrStaleWrite):
			s.logger.WithField("payment_id", payment.ID).Info("Payment settled by another writer, outcome dropped")
			return s.GetPayment(ctx, payment.ID)
		}
		return nil, err
	}

	if !result.BecameTerminal() {
		return payment, nil
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"from":       previous,
		"to":         payment.Status,
		"changed_by": changedBy,
	}).Info("Payment settled")

	if s.probes != nil {
		if err := s.probes.Cancel(ctx, payment.ID); err != nil {
			s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("Failed to cancel status probes")
		}
	}
	s.dispatcher.Dispatch(ctx, payment, previous)
	return payment, nil
}

// mergeOutcomeFields copies gateway references and URLs from the outcome.
// Empty values never clear what is already stored.
func mergeOutcomeFields(payment *entity.Payment, outcome *provider.Outcome) bool {
	changed := false
	assign := func(target **string, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if *target != nil && **target == value {
			return
		}
		*target = &value
		changed = true
	}

	assign(&payment.GatewayPaymentID, outcome.GatewayReference)
	assign(&payment.GatewayOrderID, outcome.GatewayOrderID)
	assign(&payment.RedirectURL, outcome.RedirectURL)
	assign(&payment.ChallengeURL, outcome.ChallengeURL)
	return changed
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func optionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
