// Package scheduler runs the worker loop: poll the queue, claim jobs,
// execute analyses and write results back. Claims are atomic
// conditional updates, so any number of scheduler processes can share
// one queue without double execution.
package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/prism/internal/analysis"
	"github.com/jonathan/prism/internal/intake"
	"github.com/jonathan/prism/internal/storage"
)

// JobStore is the queue surface the scheduler drives. Satisfied by
// db.DB and memstore.Store.
type JobStore interface {
	DequeueCandidates(ctx context.Context, limit int) ([]intake.Job, error)
	ClaimJob(ctx context.Context, id uuid.UUID, workerID string) (*intake.Job, bool, error)
	CompleteJob(ctx context.Context, id, resultID uuid.UUID) (bool, error)
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	RetryOrFail(ctx context.Context, id uuid.UUID, errMsg string) (intake.JobStatus, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) ([]intake.Job, error)
}

// FileStore is the registry surface the scheduler needs.
type FileStore interface {
	GetFile(ctx context.Context, id uuid.UUID) (*intake.FileRecord, error)
	CASFileStatus(ctx context.Context, id uuid.UUID, from, to intake.FileStatus, processedAt *time.Time) (bool, error)
}

// ResultStore persists analysis results.
type ResultStore interface {
	InsertResult(ctx context.Context, r *intake.AnalysisResult) error
}

// ResultCache deduplicates provider calls by content hash. Satisfied
// by cache.Cache and cache.RedisCache.
type ResultCache interface {
	Lookup(ctx context.Context, hash, analysisType, provider string) (*intake.AnalysisResult, error)
	Store(ctx context.Context, hash string, r *intake.AnalysisResult) error
}

// Config tunes one scheduler process.
type Config struct {
	// WorkerID identifies this process in claims and logs. Defaults
	// to the hostname.
	WorkerID string
	// PollInterval is the idle sleep between empty poll cycles.
	PollInterval time.Duration
	// MaxConcurrent caps jobs executing at once in this process.
	MaxConcurrent int
	// StaleAfter is how long a running job may go without finishing
	// before another scheduler reclaims it.
	StaleAfter time.Duration
	// AdapterTimeout bounds a single provider call.
	AdapterTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		c.WorkerID = host + "-" + uuid.New().String()[:8]
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = 5 * time.Minute
	}
}

// Scheduler polls for queued jobs and executes them.
type Scheduler struct {
	cfg       Config
	jobs      JobStore
	files     FileStore
	results   ResultStore
	cache     ResultCache
	objects   storage.ObjectStore
	providers *analysis.Registry
	log       *logrus.Entry
}

// New assembles a scheduler. cache may be nil to disable
// deduplication.
func New(cfg Config, jobs JobStore, files FileStore, results ResultStore,
	cache ResultCache, objects storage.ObjectStore, providers *analysis.Registry,
	log *logrus.Entry) *Scheduler {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		cfg:       cfg,
		jobs:      jobs,
		files:     files,
		results:   results,
		cache:     cache,
		objects:   objects,
		providers: providers,
		log:       log.WithField("worker_id", cfg.WorkerID),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight jobs to
// finish. The returned error is always nil today; the signature leaves
// room for fatal store errors.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"poll_interval":  s.cfg.PollInterval,
		"max_concurrent": s.cfg.MaxConcurrent,
	}).Info("scheduler started")

	var wg sync.WaitGroup
	stopReclaim := s.startReclaimLoop(ctx)
	defer stopReclaim()

	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	pollFailures := 0

	for {
		if ctx.Err() != nil {
			break
		}

		claimed, err := s.pollOnce(ctx, sem, &wg)
		switch {
		case err != nil:
			pollFailures++
			pollErrorsTotal.Inc()
			s.log.WithError(err).Warn("poll cycle failed")
			if !sleepCtx(ctx, backoffFor(s.cfg.PollInterval, pollFailures)) {
				goto done
			}
		case claimed > 0:
			// Busy cycle: there may be more ready work, poll again
			// immediately.
			pollFailures = 0
		default:
			pollFailures = 0
			if !sleepCtx(ctx, s.cfg.PollInterval) {
				goto done
			}
		}
	}

done:
	s.log.Info("scheduler stopping, draining in-flight jobs")
	wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

// pollOnce claims and launches as many eligible jobs as free slots
// allow. Returns how many jobs it claimed.
func (s *Scheduler) pollOnce(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) (int, error) {
	candidates, err := s.jobs.DequeueCandidates(ctx, s.cfg.MaxConcurrent)
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, candidate := range candidates {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return claimed, nil
		}

		job, ok, err := s.jobs.ClaimJob(ctx, candidate.ID, s.cfg.WorkerID)
		if err != nil {
			<-sem
			return claimed, err
		}
		if !ok {
			// Another scheduler got there first.
			<-sem
			continue
		}

		claimed++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.execute(ctx, job)
		}()
	}
	return claimed, nil
}

// startReclaimLoop periodically puts stale running jobs back in the
// queue. A reclaimed attempt consumes a retry.
func (s *Scheduler) startReclaimLoop(ctx context.Context) func() {
	interval := s.cfg.StaleAfter / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reclaimed, err := s.jobs.ReclaimStale(ctx, s.cfg.StaleAfter)
				if err != nil {
					s.log.WithError(err).Warn("stale job reclamation failed")
					continue
				}
				for _, j := range reclaimed {
					jobsReclaimedTotal.Inc()
					s.log.WithFields(logrus.Fields{
						"job_id": j.ID,
						"status": j.Status,
					}).Warn("reclaimed stale job")
				}
			}
		}
	}()
	return func() { <-done }
}

// backoffFor grows the idle interval after consecutive poll failures,
// capped at one minute.
func backoffFor(base time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= time.Minute {
			return time.Minute
		}
	}
	return d
}

// sleepCtx sleeps for d or until ctx is cancelled. Reports whether the
// full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
