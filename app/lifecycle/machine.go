// Package lifecycle owns the payment status transition table.
//
// Gateway outcomes move a payment forward from PENDING (optionally through
// PROCESSING) into one of PAID, FAILED or EXPIRED. Once a payment is terminal,
// further gateway outcomes are no-ops. REFUND and CHARGEBACK are reachable
// from PAID only, through ApplyAdministrative.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var gatewayTransitions = map[entity.PaymentStatus][]entity.PaymentStatus{
	entity.PaymentStatusPending: {
		entity.PaymentStatusProcessing,
		entity.PaymentStatusPaid,
		entity.PaymentStatusFailed,
		entity.PaymentStatusExpired,
	},
	entity.PaymentStatusProcessing: {
		entity.PaymentStatusPaid,
		entity.PaymentStatusFailed,
		entity.PaymentStatusExpired,
	},
}

var administrativeTransitions = map[entity.PaymentStatus][]entity.PaymentStatus{
	entity.PaymentStatusPaid: {
		entity.PaymentStatusRefund,
		entity.PaymentStatusChargeback,
	},
}

type Result struct {
	From    entity.PaymentStatus
	To      entity.PaymentStatus
	Changed bool
}

// BecameTerminal reports whether this transition is the one that made the
// payment terminal. Notifications fire on exactly these transitions.
func (r Result) BecameTerminal() bool {
	return r.Changed && !IsTerminal(r.From) && IsTerminal(r.To)
}

func IsTerminal(status entity.PaymentStatus) bool {
	switch status {
	case entity.PaymentStatusPaid,
		entity.PaymentStatusFailed,
		entity.PaymentStatusExpired,
		entity.PaymentStatusRefund,
		entity.PaymentStatusChargeback:
		return true
	default:
		return false
	}
}

func IsKnown(status entity.PaymentStatus) bool {
	switch status {
	case entity.PaymentStatusPending, entity.PaymentStatusProcessing:
		return true
	default:
		return IsTerminal(status)
	}
}

// Apply moves the payment to next if the gateway transition table allows it.
// Disallowed moves, repeated statuses and anything applied to a terminal
// payment leave the payment untouched.
func Apply(payment *entity.Payment, next entity.PaymentStatus, changedBy string, now time.Time) Result {
	result := Result{From: payment.Status, To: payment.Status}
	if IsTerminal(payment.Status) || !allowed(gatewayTransitions, payment.Status, next) {
		return result
	}

	transition(payment, next, changedBy, now)
	result.To = next
	result.Changed = true
	return result
}

func ApplyAdministrative(payment *entity.Payment, next entity.PaymentStatus, changedBy string, now time.Time) (Result, error) {
	result := Result{From: payment.Status, To: payment.Status}
	if payment.Status == next {
		return result, nil
	}
	if !allowed(administrativeTransitions, payment.Status, next) {
		return result, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, payment.Status, next)
	}

	transition(payment, next, changedBy, now)
	result.To = next
	result.Changed = true
	return result, nil
}

func transition(payment *entity.Payment, next entity.PaymentStatus, changedBy string, now time.Time) {
	payment.Status = next
	payment.UpdatedAt = now
	payment.StatusChangedAt = &now
	if changedBy != "" {
		by := changedBy
		payment.StatusChangedBy = &by
	}
	if next == entity.PaymentStatusPaid && payment.PaidAt == nil {
		paidAt := now
		payment.PaidAt = &paidAt
	}
}

func allowed(table map[entity.PaymentStatus][]entity.PaymentStatus, from, to entity.PaymentStatus) bool {
	for _, candidate := range table[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
