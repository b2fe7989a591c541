// Package lock provides per-key mutual exclusion for payment updates.
package lock

import (
	"context"
	"errors"
	"strconv"
)

var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases the key and is safe to call more than once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func PaymentKey(paymentID uint64) string {
	return "payment:" + strconv.FormatUint(paymentID, 10)
}
