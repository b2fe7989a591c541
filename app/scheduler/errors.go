package scheduler

import "errors"

var ErrStopped = errors.New("scheduler is stopped")
