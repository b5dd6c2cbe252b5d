// Package maintenance provides scheduled database upkeep for the worker.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes assessments produced before a cutoff.
type Pruner interface {
	PruneAssessments(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Optimizer refreshes database statistics.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Config controls the maintenance schedule.
type Config struct {
	Interval      time.Duration // 0 disables the scheduler
	RetentionDays int           // 0 keeps assessments forever
	InitialDelay  time.Duration
	BatchSize     int
}

// Stats is a snapshot of the maintenance counters.
type Stats struct {
	LastRun        time.Time `json:"last_run,omitempty"`
	Interval       string    `json:"interval"`
	RetentionDays  int       `json:"retention_days"`
	LastDurationMs int64     `json:"last_duration_ms"`
	Runs           int64     `json:"runs"`
	TotalPruned    int64     `json:"total_pruned"`
	TotalOptimizes int64     `json:"total_optimizes"`
	Failures       int64     `json:"failures"`
	Running        bool      `json:"running"`
}

// Service prunes expired assessments and optimizes the database on a
// fixed interval.
type Service struct {
	lastRunTime     time.Time
	log             zerolog.Logger
	pruner          Pruner
	optimizer       Optimizer
	now             func() time.Time
	stopCh          chan struct{}
	doneCh          chan struct{}
	config          Config
	lastRunDuration time.Duration
	runs            int64
	totalPruned     int64
	totalOptimizes  int64
	failures        int64
	mu              sync.Mutex
	runMu           sync.Mutex
	running         bool
}

// NewService creates a maintenance service.
func NewService(pruner Pruner, optimizer Optimizer, cfg Config, log zerolog.Logger) *Service {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Service{
		pruner:    pruner,
		optimizer: optimizer,
		config:    cfg,
		now:       time.Now,
		log:       log.With().Str("component", "maintenance").Logger(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the maintenance loop.
// This should be called in a goroutine.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if s.config.Interval <= 0 {
		s.log.Info().Msg("Maintenance disabled, not starting scheduler")
		return
	}

	s.log.Info().
		Dur("interval", s.config.Interval).
		Int("retention_days", s.config.RetentionDays).
		Msg("Starting maintenance scheduler")

	// First run once the service has settled
	delay := time.NewTimer(s.config.InitialDelay)
	select {
	case <-ctx.Done():
		delay.Stop()
		return
	case <-s.stopCh:
		delay.Stop()
		return
	case <-delay.C:
		s.RunNow(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance stopping")
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}

// Stop signals the scheduler to stop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

// RunNow executes one maintenance run and returns the number of pruned
// assessments. Concurrent calls are serialized.
func (s *Service) RunNow(ctx context.Context) int64 {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.now()
	var pruned, failures int64

	if s.config.RetentionDays > 0 {
		cutoff := start.AddDate(0, 0, -s.config.RetentionDays)
		n, err := s.pruner.PruneAssessments(ctx, cutoff, s.config.BatchSize)
		pruned = n
		if err != nil {
			failures++
			s.log.Error().Err(err).Int64("pruned", n).Msg("Failed to prune old assessments")
		} else if n > 0 {
			s.log.Info().Int64("pruned", n).Time("cutoff", cutoff).Msg("Pruned old assessments")
		}
	}

	optimized := false
	if err := s.optimizer.Optimize(ctx); err != nil {
		failures++
		s.log.Error().Err(err).Msg("Failed to optimize database")
	} else {
		optimized = true
	}

	elapsed := s.now().Sub(start)
	s.mu.Lock()
	s.lastRunTime = start
	s.lastRunDuration = elapsed
	s.runs++
	s.totalPruned += pruned
	s.failures += failures
	if optimized {
		s.totalOptimizes++
	}
	s.mu.Unlock()

	s.log.Info().
		Dur("duration", elapsed).
		Int64("assessments_pruned", pruned).
		Msg("Maintenance run completed")
	return pruned
}

// Stats returns maintenance statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		LastRun:        s.lastRunTime,
		Interval:       s.config.Interval.String(),
		RetentionDays:  s.config.RetentionDays,
		LastDurationMs: s.lastRunDuration.Milliseconds(),
		Runs:           s.runs,
		TotalPruned:    s.totalPruned,
		TotalOptimizes: s.totalOptimizes,
		Failures:       s.failures,
		Running:        s.running,
	}
}
