// Package janitor runs periodic maintenance: force-failing jobs stuck in
// the running state past their wall-clock budget, purging expired cache
// entries, and compacting the database.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/taskweave/taskweave/internal/cache"
	"github.com/taskweave/taskweave/internal/storage"
	"github.com/taskweave/taskweave/internal/types"
)

// Vacuumer is implemented by storage backends that support compaction
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// Config holds janitor schedules. Specs are standard five-field cron.
type Config struct {
	StaleJobsSpec  string
	CachePurgeSpec string
	VacuumSpec     string
	// StaleAfter is how long a job may sit in running before it is
	// force-failed (default: 15m)
	StaleAfter time.Duration
}

// DefaultConfig returns the default schedules
func DefaultConfig() Config {
	return Config{
		StaleJobsSpec:  "*/5 * * * *",
		CachePurgeSpec: "13 * * * *",
		VacuumSpec:     "0 4 * * *",
		StaleAfter:     15 * time.Minute,
	}
}

// Janitor owns the maintenance schedule
type Janitor struct {
	store  storage.Storage
	cache  *cache.Store
	vac    Vacuumer
	cfg    Config
	cron   *cron.Cron
	logger *zap.SugaredLogger
}

// New creates a janitor. cache and vac may be nil, disabling those passes.
func New(store storage.Storage, cacheStore *cache.Store, vac Vacuumer, cfg Config, logger *zap.SugaredLogger) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.StaleAfter == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Janitor{
		store:  store,
		cache:  cacheStore,
		vac:    vac,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger,
	}, nil
}

// Start registers the schedules and begins running them
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.StaleJobsSpec, func() { j.runPass("stale_jobs", j.FailStaleJobs) }); err != nil {
		return fmt.Errorf("invalid stale jobs schedule %q: %w", j.cfg.StaleJobsSpec, err)
	}
	if j.cache != nil {
		if _, err := j.cron.AddFunc(j.cfg.CachePurgeSpec, func() { j.runPass("cache_purge", j.PurgeExpiredCache) }); err != nil {
			return fmt.Errorf("invalid cache purge schedule %q: %w", j.cfg.CachePurgeSpec, err)
		}
	}
	if j.vac != nil {
		if _, err := j.cron.AddFunc(j.cfg.VacuumSpec, func() { j.runPass("vacuum", j.vacuum) }); err != nil {
			return fmt.Errorf("invalid vacuum schedule %q: %w", j.cfg.VacuumSpec, err)
		}
	}
	j.cron.Start()
	j.logger.Infow("janitor started",
		"stale_jobs", j.cfg.StaleJobsSpec, "cache_purge", j.cfg.CachePurgeSpec, "vacuum", j.cfg.VacuumSpec)
	return nil
}

// Stop halts the schedule and waits for in-flight passes
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) runPass(name string, pass func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := pass(ctx); err != nil {
		j.logger.Warnw("janitor pass failed", "pass", name, "error", err)
	}
}

// FailStaleJobs force-fails jobs that have been running longer than the
// configured budget, so no job stays running forever after a crashed or
// hung task
func (j *Janitor) FailStaleJobs(ctx context.Context) error {
	cutoff := time.Now().Add(-j.cfg.StaleAfter).Unix()
	jobs, err := j.store.ListRunningJobsStartedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		msg := fmt.Sprintf("job exceeded wall-clock budget of %s", j.cfg.StaleAfter)
		if err := j.store.FailJob(ctx, job.ID, msg); err != nil {
			// A concurrent terminal write is fine; anything else is not
			j.logger.Warnw("failed to fail stale job", "job_id", job.ID, "error", err)
			continue
		}
		_ = j.store.AddEvent(ctx, types.ScopeJob, job.ID, "janitor", "timed_out", msg)
		j.logger.Infow("force-failed stale job", "job_id", job.ID)
	}
	return nil
}

// PurgeExpiredCache removes lapsed semantic cache records
func (j *Janitor) PurgeExpiredCache(ctx context.Context) error {
	n, err := j.cache.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Infow("purged expired cache entries", "count", n)
	}
	return nil
}

func (j *Janitor) vacuum(ctx context.Context) error {
	return j.vac.Vacuum(ctx)
}
