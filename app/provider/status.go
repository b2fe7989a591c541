package provider

import (
	"strings"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

// StatusTable maps a provider's string-coded statuses onto the shared set.
// Keys are lower-case.
type StatusTable map[string]entity.PaymentStatus

// Resolve maps raw case-insensitively. final is the provider's own finality
// flag, when it has one. Terminal statuses are always final. A value that is
// unknown, or known but non-terminal, resolves to PENDING while the provider
// keeps the transaction open and to FAILED once the provider closes it. PAID
// only ever comes from an explicit table entry.
func (t StatusTable) Resolve(raw string, final bool) (entity.PaymentStatus, bool) {
	status, ok := t[strings.ToLower(strings.TrimSpace(raw))]
	if ok && isTerminalOutcome(status) {
		return status, true
	}
	if final {
		return entity.PaymentStatusFailed, true
	}
	return entity.PaymentStatusPending, false
}

func isTerminalOutcome(status entity.PaymentStatus) bool {
	switch status {
	case entity.PaymentStatusPaid, entity.PaymentStatusFailed, entity.PaymentStatusExpired:
		return true
	default:
		return false
	}
}

var defaultStatusTable = StatusTable{
	"paid":          entity.PaymentStatusPaid,
	"awaiting fiat": entity.PaymentStatusPending,
	"pending":       entity.PaymentStatusPending,
	"cancelled":     entity.PaymentStatusFailed,
	"canceled":      entity.PaymentStatusFailed,
	"failed":        entity.PaymentStatusFailed,
	"error":         entity.PaymentStatusFailed,
	"expired":       entity.PaymentStatusExpired,
	"timeout":       entity.PaymentStatusExpired,
}

func (t StatusTable) with(extra StatusTable) StatusTable {
	merged := make(StatusTable, len(t)+len(extra))
	for k, v := range t {
		merged[k] = v
	}
	for k, v := range extra {
		merged[strings.ToLower(k)] = v
	}
	return merged
}
