package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/lifecycle"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/lock"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
)

var errStatusCheckUnsupported = errors.New("gateway has no status check")

// RunReconcileBatch checks stale non-terminal payments once each. Payments
// with a probe job are left to the scheduler.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) error {
	before := s.now().Add(-s.paymentsCfg.ReconcileStaleAfter)
	items, err := s.paymentRepo.ListForReconcile(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil {
			continue
		}
		reference := reconcileReference(payment)
		if reference == "" {
			continue
		}

		if _, err := s.checkStatus(ctx, payment.ID, payment.Gateway, reference, "reconcile"); err != nil {
			if errors.Is(err, errStatusCheckUnsupported) {
				continue
			}
			s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("Reconcile check failed")
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// ProbePayment runs one scheduled status probe. It reports final once the
// payment is settled, whether by this probe or by anything else.
func (s *PaymentService) ProbePayment(ctx context.Context, job entity.ProbeJob) (bool, error) {
	return s.checkStatus(ctx, job.PaymentID, job.Gateway, job.Reference, "probe")
}

// ReportExhaustedProbes alerts operators once about every payment whose probe
// budget ran out without a final answer.
func (s *PaymentService) ReportExhaustedProbes(ctx context.Context) error {
	jobs, err := s.probeJobRepo.ListUnreported(ctx, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, job := range jobs {
		if job == nil {
			continue
		}

		payment, err := s.paymentRepo.FindByID(ctx, job.PaymentID)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if payment != nil && lifecycle.IsTerminal(payment.Status) {
			// Settled after the probes ran out; nothing to report.
			if err := s.probeJobRepo.MarkReported(ctx, job.PaymentID, s.now()); err != nil {
				firstErr = keepFirstErr(firstErr, err)
			}
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"payment_id": job.PaymentID,
			"gateway":    job.Gateway,
			"attempts":   job.Attempts,
			"armed_at":   job.ArmedAt,
		}).Warn("Payment left unsettled after status probes")

		if s.alerter != nil {
			text := fmt.Sprintf("Payment #%d is still unsettled after %d status probes\ngateway: %s\nreference: %s\narmed at: %s",
				job.PaymentID, job.Attempts, job.Gateway, job.Reference, job.ArmedAt.Format("2006-01-02 15:04:05 MST"))
			if err := s.alerter.Alert(ctx, text); err != nil {
				firstErr = keepFirstErr(firstErr, err)
				continue
			}
		}

		if err := s.probeJobRepo.MarkReported(ctx, job.PaymentID, s.now()); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *PaymentService) checkStatus(ctx context.Context, paymentID uint64, gateway, reference, source string) (bool, error) {
	providerClient, err := s.providerReg.Get(gateway)
	if err != nil {
		return false, err
	}
	checker, ok := providerClient.(provider.StatusChecker)
	if !ok {
		return false, fmt.Errorf("%w: %s", errStatusCheckUnsupported, gateway)
	}

	unlock, err := s.locker.Lock(ctx, lock.PaymentKey(paymentID))
	if err != nil {
		return false, err
	}
	defer unlock()

	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if payment == nil || lifecycle.IsTerminal(payment.Status) {
		return true, nil
	}

	outcome, err := checker.CheckStatus(ctx, reference)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGatewayCommunication, err)
	}

	updated, err := s.applyOutcome(ctx, payment, outcome, source+":"+gateway)
	if err != nil {
		return false, err
	}
	return outcome.Final || lifecycle.IsTerminal(updated.Status), nil
}

func reconcileReference(payment *entity.Payment) string {
	if payment.GatewayPaymentID != nil {
		if ref := strings.TrimSpace(*payment.GatewayPaymentID); ref != "" {
			return ref
		}
	}
	if payment.GatewayOrderID != nil {
		return strings.TrimSpace(*payment.GatewayOrderID)
	}
	return ""
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
