// Package scheduler runs bounded, periodic out-of-band status probes for
// payments whose provider answered with a pending outcome.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultWindow       = 2 * time.Hour
	DefaultProbeTimeout = 30 * time.Second
)

// ProbeFunc checks a payment once. final reports that no further probes are
// needed, either because the provider settled it or it is already terminal.
type ProbeFunc func(ctx context.Context, job entity.ProbeJob) (final bool, err error)

type Store interface {
	Save(ctx context.Context, job *entity.ProbeJob) error
	Delete(ctx context.Context, paymentID uint64) error
	MarkExhausted(ctx context.Context, paymentID uint64) error
	ListActive(ctx context.Context) ([]*entity.ProbeJob, error)
}

type Config struct {
	Interval     time.Duration
	Window       time.Duration
	ProbeTimeout time.Duration
}

type stopper interface {
	Stop() bool
}

type probeSet struct {
	job       entity.ProbeJob
	timer     stopper
	cancelled bool
}

type Scheduler struct {
	cfg    Config
	store  Store
	probe  ProbeFunc
	logger logrus.FieldLogger

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	sets    map[uint64]*probeSet
	stopped bool
	running sync.WaitGroup
}

func New(cfg Config, store Store, probe ProbeFunc) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	return &Scheduler{
		cfg:    cfg,
		store:  store,
		probe:  probe,
		logger: factory.NewModuleLogger("scheduler"),
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		sets: make(map[uint64]*probeSet),
	}
}

// MaxProbes is the number of probes that fit in the window.
func (s *Scheduler) MaxProbes() int32 {
	n := int32(s.cfg.Window / s.cfg.Interval)
	if n < 1 {
		return 1
	}
	return n
}

// Arm starts a fresh probe set for the payment, replacing any set already
// running for it. The job is stored before its timer starts, so a stored job
// never outlives a Cancel that ran in between.
func (s *Scheduler) Arm(ctx context.Context, paymentID uint64, gateway, reference string) error {
	now := s.now().UTC()
	job := entity.ProbeJob{
		PaymentID:  paymentID,
		Gateway:    gateway,
		Reference:  reference,
		NextFireAt: now.Add(s.cfg.Interval),
		ArmedAt:    now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if err := s.store.Save(ctx, &job); err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.replaceLocked(&probeSet{job: job}, s.cfg.Interval)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"payment_id": paymentID,
		"gateway":    gateway,
		"max_probes": s.MaxProbes(),
	}).Info("Status probes armed")

	return nil
}

// Cancel stops the probe set of a payment, if any, and forgets its job,
// including one left behind after the probes ran out.
func (s *Scheduler) Cancel(ctx context.Context, paymentID uint64) error {
	s.mu.Lock()
	if set, ok := s.sets[paymentID]; ok {
		s.dropLocked(set)
	}
	s.mu.Unlock()

	return s.store.Delete(ctx, paymentID)
}

// Armed returns a snapshot of the job currently scheduled for the payment.
func (s *Scheduler) Armed(paymentID uint64) (entity.ProbeJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[paymentID]
	if !ok {
		return entity.ProbeJob{}, false
	}
	return set.job, true
}

// Rehydrate re-arms every unfinished job found in the store, keeping the
// attempts already spent. Overdue jobs fire immediately.
func (s *Scheduler) Rehydrate(ctx context.Context) (int, error) {
	jobs, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	armed := 0
	for _, job := range jobs {
		if job.Attempts >= s.MaxProbes() {
			if err := s.store.MarkExhausted(ctx, job.PaymentID); err != nil {
				s.logger.WithError(err).WithField("payment_id", job.PaymentID).Error("Failed to mark probe job exhausted")
			}
			continue
		}

		delay := job.NextFireAt.Sub(now)
		if delay < 0 {
			delay = 0
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return armed, ErrStopped
		}
		s.replaceLocked(&probeSet{job: *job}, delay)
		s.mu.Unlock()
		armed++
	}

	if armed > 0 {
		s.logger.WithField("count", armed).Info("Status probes re-armed")
	}
	return armed, nil
}

// Stop halts all timers and waits for in-flight probes. Jobs stay in the
// store so the next process can re-arm them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, set := range s.sets {
		set.cancelled = true
		if set.timer != nil {
			set.timer.Stop()
		}
	}
	s.sets = make(map[uint64]*probeSet)
	s.mu.Unlock()

	s.running.Wait()
}

func (s *Scheduler) replaceLocked(set *probeSet, delay time.Duration) {
	if old, ok := s.sets[set.job.PaymentID]; ok {
		s.dropLocked(old)
	}
	s.sets[set.job.PaymentID] = set
	set.timer = s.afterFunc(delay, func() { s.fire(set) })
}

func (s *Scheduler) dropLocked(set *probeSet) {
	set.cancelled = true
	if set.timer != nil {
		set.timer.Stop()
	}
	if current, ok := s.sets[set.job.PaymentID]; ok && current == set {
		delete(s.sets, set.job.PaymentID)
	}
}

func (s *Scheduler) current(set *probeSet) bool {
	return !set.cancelled && s.sets[set.job.PaymentID] == set
}

func (s *Scheduler) fire(set *probeSet) {
	s.mu.Lock()
	if s.stopped || !s.current(set) {
		s.mu.Unlock()
		return
	}
	set.job.Attempts++
	job := set.job
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	logger := s.logger.WithFields(logrus.Fields{
		"payment_id": job.PaymentID,
		"gateway":    job.Gateway,
		"attempt":    job.Attempts,
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	final, err := s.probe(ctx, job)
	cancel()
	if err != nil {
		logger.WithError(err).Warn("Status probe failed")
	}

	storeCtx, storeCancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	defer storeCancel()

	s.mu.Lock()
	if !s.current(set) {
		// Cancelled or re-armed while the probe was running.
		s.mu.Unlock()
		return
	}

	switch {
	case final:
		s.dropLocked(set)
		s.mu.Unlock()
		logger.Info("Status probes finished")
		if err := s.store.Delete(storeCtx, job.PaymentID); err != nil {
			logger.WithError(err).Error("Failed to delete probe job")
		}
	case job.Attempts >= s.MaxProbes():
		s.dropLocked(set)
		s.mu.Unlock()
		logger.Warn("Status probes exhausted, payment left unsettled")
		if err := s.store.MarkExhausted(storeCtx, job.PaymentID); err != nil {
			logger.WithError(err).Error("Failed to mark probe job exhausted")
		}
	default:
		now := s.now().UTC()
		set.job.NextFireAt = now.Add(s.cfg.Interval)
		set.job.UpdatedAt = now
		set.timer = s.afterFunc(s.cfg.Interval, func() { s.fire(set) })
		saved := set.job
		s.mu.Unlock()
		if err := s.store.Save(storeCtx, &saved); err != nil {
			logger.WithError(err).Error("Failed to save probe job")
		}
	}
}
