// Package sweeper schedules the periodic maintenance sweeps: expiring
// abandoned previews, purging old audit records and resuming interrupted
// deletions. Each sweep is an idempotent function; the sweeper only decides
// when to call it and records a checkpoint after every run.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/metrics"
	"github.com/poiesic/kbase/storage"
)

const (
	ExpireSessions  = "expire_sessions"
	PurgeAudit      = "purge_audit"
	PruneAccessLog  = "prune_access_log"
	ResumeDeletions = "resume_deletions"
)

var (
	// ErrStoreRequired is returned when a store is not provided.
	ErrStoreRequired = errors.New("store required")

	// ErrUnknownSweep is returned when a sweep name is not registered.
	ErrUnknownSweep = errors.New("unknown sweep")
)

// Func runs one pass of a sweep and reports how many items it handled.
type Func func(ctx context.Context) (int, error)

// Sweep is a named periodic job.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      Func
}

// Sweeper runs registered sweeps on their intervals.
type Sweeper struct {
	store  storage.Store
	clock  core.Clock
	logger *slog.Logger
	sweeps []Sweep
	mu     sync.Mutex
}

// Option configures a Sweeper.
type Option func(*Sweeper) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithClock sets the time source used for checkpoints and scheduling.
func WithClock(clock core.Clock) Option {
	return func(s *Sweeper) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		s.clock = clock
		return nil
	}
}

// WithSweep registers a sweep.
func WithSweep(name string, interval time.Duration, fn Func) Option {
	return func(s *Sweeper) error {
		if name == "" || fn == nil {
			return fmt.Errorf("sweep needs a name and a function")
		}
		if interval <= 0 {
			return fmt.Errorf("sweep %s: interval must be positive, got %s", name, interval)
		}
		for _, existing := range s.sweeps {
			if existing.Name == name {
				return fmt.Errorf("sweep %s registered twice", name)
			}
		}
		s.sweeps = append(s.sweeps, Sweep{Name: name, Interval: interval, Run: fn})
		return nil
	}
}

// New creates a sweeper.
func New(store storage.Store, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	s := &Sweeper{
		store:  store,
		clock:  core.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "sweeper")
	return s, nil
}

// Names lists the registered sweeps in registration order.
func (s *Sweeper) Names() []string {
	names := make([]string, len(s.sweeps))
	for i, sw := range s.sweeps {
		names[i] = sw.Name
	}
	return names
}

// RunOnce runs the named sweep now and records its checkpoint.
func (s *Sweeper) RunOnce(ctx context.Context, name string) (int, error) {
	for _, sw := range s.sweeps {
		if sw.Name == name {
			return s.run(ctx, sw)
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownSweep, name)
}

// RunAll runs every sweep once, in registration order.
func (s *Sweeper) RunAll(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(s.sweeps))
	var errs []error
	for _, sw := range s.sweeps {
		n, err := s.run(ctx, sw)
		counts[sw.Name] = n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sw.Name, err))
		}
	}
	return counts, errors.Join(errs...)
}

// Checkpoint returns the last recorded run of a sweep, or nil if it never
// ran.
func (s *Sweeper) Checkpoint(ctx context.Context, name string) (*core.SweepCheckpoint, error) {
	var cp *core.SweepCheckpoint
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		cp, err = tx.Checkpoints().Load(name)
		return err
	})
	return cp, err
}

// Start runs every sweep on its interval until ctx is cancelled. A sweep
// whose checkpoint shows it is overdue runs immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sw := range s.sweeps {
		delay, err := s.firstDelay(ctx, sw)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, sw, delay)
		}()
	}
	s.logger.Info("sweeper started", "sweeps", s.Names())
	wg.Wait()
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context, sw Sweep, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := s.run(ctx, sw); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "sweep", sw.Name, "err", err)
		}
		timer.Reset(sw.Interval)
	}
}

func (s *Sweeper) firstDelay(ctx context.Context, sw Sweep) (time.Duration, error) {
	cp, err := s.Checkpoint(ctx, sw.Name)
	if err != nil {
		return 0, err
	}
	if cp == nil {
		return 0, nil
	}
	next := cp.LastRunAt.Add(sw.Interval)
	return max(next.Sub(s.clock.Now()), 0), nil
}

// run executes one pass. Passes of the same sweeper never overlap, so a
// slow sweep cannot race a manual RunOnce.
func (s *Sweeper) run(ctx context.Context, sw Sweep) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	n, runErr := sw.Run(ctx)
	metrics.SweepItems(sw.Name, n)
	if runErr != nil {
		s.logger.Warn("sweep finished with errors", "sweep", sw.Name, "items", n, "err", runErr)
	} else if n > 0 {
		s.logger.Info("sweep finished", "sweep", sw.Name, "items", n, "elapsed", time.Since(start))
	} else {
		s.logger.Debug("sweep found nothing", "sweep", sw.Name)
	}

	err := s.store.Update(context.WithoutCancel(ctx), func(tx storage.Tx) error {
		cp, err := tx.Checkpoints().Load(sw.Name)
		if err != nil {
			return err
		}
		if cp == nil {
			cp = &core.SweepCheckpoint{Name: sw.Name}
		}
		now := s.clock.Now()
		cp.LastRunAt = now
		cp.LastCount = n
		cp.TotalRuns++
		cp.UpdatedAt = now
		return tx.Checkpoints().Save(cp)
	})
	if err != nil {
		return n, errors.Join(runErr, fmt.Errorf("save checkpoint: %w", err))
	}
	return n, runErr
}
