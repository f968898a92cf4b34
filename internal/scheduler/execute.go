package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/prism/internal/analysis"
	"github.com/jonathan/prism/internal/intake"
	"github.com/jonathan/prism/internal/storage"
)

// Outcome labels for the processed-jobs metric.
const (
	outcomeCompleted = "completed"
	outcomeCached    = "completed_cached"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
	outcomeDiscarded = "discarded"
)

// execute runs one claimed job end to end: load the file, resolve the
// analysis type, consult the cache, call the provider on a miss,
// persist the result and complete the job. All terminal writes are
// conditional on the job still being in the running state, so a
// cancellation during execution quietly wins.
func (s *Scheduler) execute(ctx context.Context, job *intake.Job) {
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()
	start := time.Now()
	defer func() { jobDuration.Observe(time.Since(start).Seconds()) }()

	log := s.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"file_id":  job.FileID,
		"attempt":  job.RetryCount + 1,
	})
	log.Info("job started")

	file, err := s.files.GetFile(ctx, job.FileID)
	if err != nil {
		// A job pointing at a missing file can never succeed.
		s.failTerminal(ctx, log, job, "file record not found: "+err.Error())
		return
	}

	s.markFile(ctx, log, file, intake.FileProcessing, nil)

	result, hash, cached, err := s.analyze(ctx, log, job, file)
	if err != nil {
		s.handleFailure(ctx, log, job, file, err)
		return
	}

	elapsed := int(time.Since(start).Milliseconds())
	result.ProcessingTimeMs = &elapsed
	if err := s.results.InsertResult(ctx, result); err != nil {
		log.WithError(err).Error("result insert failed")
		s.retryOrFail(ctx, log, job, file, "result insert failed: "+err.Error())
		return
	}

	// Cache after the insert so the entry points at a persisted row.
	if s.cache != nil && !cached {
		if err := s.cache.Store(ctx, hash, result); err != nil {
			log.WithError(err).Warn("cache store failed")
		}
	}

	ok, err := s.jobs.CompleteJob(ctx, job.ID, result.ID)
	if err != nil {
		log.WithError(err).Error("job completion write failed")
		return
	}
	if !ok {
		// Cancelled while we worked. The result row stays, the job
		// and file do not change.
		log.Info("job no longer running, discarding completion")
		jobsProcessedTotal.WithLabelValues(outcomeDiscarded).Inc()
		return
	}

	now := time.Now()
	s.markFile(ctx, log, file, intake.FileCompleted, &now)

	if cached {
		jobsProcessedTotal.WithLabelValues(outcomeCached).Inc()
	} else {
		jobsProcessedTotal.WithLabelValues(outcomeCompleted).Inc()
	}
	log.WithFields(logrus.Fields{
		"result_id": result.ID,
		"cached":    cached,
		"ms":        elapsed,
	}).Info("job completed")
}

// analyze produces the job's result, from cache when possible. It
// returns the content hash it keyed the cache with and whether the
// cache served the result.
func (s *Scheduler) analyze(ctx context.Context, log *logrus.Entry, job *intake.Job, file *intake.FileRecord) (*intake.AnalysisResult, string, bool, error) {
	provider, err := s.providers.Get(paramString(job.Parameters, "provider"))
	if err != nil {
		return nil, "", false, &analysis.ProviderError{Provider: "registry", Kind: analysis.KindInvalidInput, Err: err}
	}

	analysisType := paramString(job.Parameters, "analysis_type")
	if analysisType == "" {
		analysisType = analysis.Route(analysis.RouteInput{
			JobType:            job.JobType,
			InvestmentCategory: paramString(job.Parameters, "investment_category"),
			Filename:           file.OriginalFilename,
			MIMEType:           orEmpty(file.MIMEType),
		})
	}

	data, err := storage.ReadAll(ctx, s.objects, file.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", false, &analysis.ProviderError{Provider: provider.Name(), Kind: analysis.KindInvalidInput, Err: err}
		}
		return nil, "", false, err
	}

	hash := orEmpty(file.ContentHash)
	if hash == "" {
		hash = storage.HashContent(data)
	}

	if s.cache != nil {
		cached, err := s.cache.Lookup(ctx, hash, analysisType, provider.Name())
		if err != nil {
			log.WithError(err).Warn("cache lookup failed, continuing without it")
		} else if cached != nil {
			cacheHitsTotal.Inc()
			log.WithField("source_result_id", cached.ID).Info("analysis cache hit")
			return s.resultFromCache(job, file, cached), hash, true, nil
		}
		cacheMissesTotal.Inc()
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	defer cancel()
	out, err := provider.Analyze(callCtx, analysis.Input{
		Filename:     file.OriginalFilename,
		MIMEType:     orEmpty(file.MIMEType),
		Data:         data,
		AnalysisType: analysisType,
		CustomPrompt: paramString(job.Parameters, "prompt"),
	})
	if err != nil {
		return nil, "", false, err
	}

	return resultFromOutput(job, file, analysisType, provider.Name(), out), hash, false, nil
}

// resultFromCache copies a cached result into a fresh row owned by
// this job. Results are immutable, so the copy never drifts from its
// source.
func (s *Scheduler) resultFromCache(job *intake.Job, file *intake.FileRecord, cached *intake.AnalysisResult) *intake.AnalysisResult {
	r := *cached
	r.ID = uuid.Nil
	r.JobID = &job.ID
	r.FileID = file.ID
	r.InvestmentID = job.InvestmentID
	r.CreatedAt = time.Time{}
	r.QualityFlags = append(append([]string{}, cached.QualityFlags...), "from_cache")
	return &r
}

func resultFromOutput(job *intake.Job, file *intake.FileRecord, analysisType, provider string, out *analysis.Output) *intake.AnalysisResult {
	r := &intake.AnalysisResult{
		JobID:             &job.ID,
		FileID:            file.ID,
		InvestmentID:      job.InvestmentID,
		AnalysisType:      analysisType,
		Provider:          provider,
		StructuredData:    out.StructuredData,
		ExtractedEntities: out.ExtractedEntities,
		ExtractedDates:    out.ExtractedDates,
		ExtractedAmounts:  out.ExtractedAmounts,
		ConfidenceScore:   out.ConfidenceScore,
		QualityFlags:      out.QualityFlags,
		TokensUsed:        out.TokensUsed,
	}
	if out.RawText != "" {
		r.RawText = &out.RawText
	}
	if out.Summary != "" {
		r.Summary = &out.Summary
	}
	if out.ModelVersion != "" {
		r.ModelVersion = &out.ModelVersion
	}
	return r
}

// handleFailure routes an execution error to retry or terminal
// failure.
func (s *Scheduler) handleFailure(ctx context.Context, log *logrus.Entry, job *intake.Job, file *intake.FileRecord, execErr error) {
	log.WithError(execErr).Warn("job attempt failed")

	if !analysis.Retryable(execErr) {
		s.failTerminalFile(ctx, log, job, file, execErr.Error())
		return
	}
	s.retryOrFail(ctx, log, job, file, execErr.Error())
}

func (s *Scheduler) retryOrFail(ctx context.Context, log *logrus.Entry, job *intake.Job, file *intake.FileRecord, msg string) {
	status, err := s.jobs.RetryOrFail(ctx, job.ID, msg)
	if err != nil {
		if intake.IsInvalidTransition(err) || intake.IsNotFound(err) {
			log.Info("job no longer running, discarding failure")
			jobsProcessedTotal.WithLabelValues(outcomeDiscarded).Inc()
			return
		}
		log.WithError(err).Error("retry decision write failed")
		return
	}
	switch status {
	case intake.JobQueued:
		jobsProcessedTotal.WithLabelValues(outcomeRetried).Inc()
		log.Info("job re-queued for retry")
	case intake.JobFailed:
		jobsProcessedTotal.WithLabelValues(outcomeFailed).Inc()
		log.WithError(&intake.RetriesExhaustedError{
			JobID:    job.ID,
			Attempts: job.RetryCount + 1,
			LastErr:  msg,
		}).Error("job failed terminally")
		if file != nil {
			now := time.Now()
			s.markFile(ctx, log, file, intake.FileFailed, &now)
		}
	default:
		// Cancelled while we were failing: nothing to do.
		jobsProcessedTotal.WithLabelValues(outcomeDiscarded).Inc()
	}
}

// failTerminal fails a job whose file record is gone.
func (s *Scheduler) failTerminal(ctx context.Context, log *logrus.Entry, job *intake.Job, msg string) {
	ok, err := s.jobs.FailJob(ctx, job.ID, msg)
	if err != nil {
		log.WithError(err).Error("terminal failure write failed")
		return
	}
	if !ok {
		jobsProcessedTotal.WithLabelValues(outcomeDiscarded).Inc()
		return
	}
	jobsProcessedTotal.WithLabelValues(outcomeFailed).Inc()
	log.Error("job failed terminally: " + msg)
}

// failTerminalFile fails a job non-retryably and marks its file
// failed.
func (s *Scheduler) failTerminalFile(ctx context.Context, log *logrus.Entry, job *intake.Job, file *intake.FileRecord, msg string) {
	ok, err := s.jobs.FailJob(ctx, job.ID, msg)
	if err != nil {
		log.WithError(err).Error("terminal failure write failed")
		return
	}
	if !ok {
		jobsProcessedTotal.WithLabelValues(outcomeDiscarded).Inc()
		return
	}
	jobsProcessedTotal.WithLabelValues(outcomeFailed).Inc()
	log.Error("job failed terminally: " + msg)
	now := time.Now()
	s.markFile(ctx, log, file, intake.FileFailed, &now)
}

// markFile moves a file toward status with a short CAS loop, skipping
// silently when the transition is not legal from the current state.
func (s *Scheduler) markFile(ctx context.Context, log *logrus.Entry, file *intake.FileRecord, to intake.FileStatus, processedAt *time.Time) {
	for attempt := 0; attempt < 3; attempt++ {
		current, err := s.files.GetFile(ctx, file.ID)
		if err != nil {
			log.WithError(err).Warn("file status update failed")
			return
		}
		if current.Status == to {
			return
		}
		if !intake.ValidFileTransition(current.Status, to) {
			return
		}
		ok, err := s.files.CASFileStatus(ctx, file.ID, current.Status, to, processedAt)
		if err != nil {
			log.WithError(err).Warn("file status update failed")
			return
		}
		if ok {
			return
		}
	}
	log.WithField("to", to).Warn("file status update lost repeated races, giving up")
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
