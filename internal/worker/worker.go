// worker/worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"geoval-system/internal/config"
	"geoval-system/internal/domain"
	"geoval-system/internal/infrastructure"
	"geoval-system/internal/messaging"
	"geoval-system/internal/repository"
	"geoval-system/pkg/validation"
)

// runEntry caches the run document and its compiled Validator so repeated
// jobs of one run skip the adapter construction.
type runEntry struct {
	run       *domain.ValidationRun
	validator *validation.Validator
}

type Worker struct {
	id         string
	runs       repository.RunRepository
	results    repository.ResultRepository
	msgClient  messaging.MessageClient
	registry   *infrastructure.Registry
	cfg        *config.Config
	logger     *zap.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	isRunning  atomic.Bool
	processed  atomic.Int64
	failed     atomic.Int64
	processing atomic.Int32

	mu       sync.Mutex
	runCache map[string]*runEntry
}

func NewWorker(id string, runs repository.RunRepository, results repository.ResultRepository,
	msgClient messaging.MessageClient, registry *infrastructure.Registry,
	cfg *config.Config, logger *zap.Logger) *Worker {

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		runs:      runs,
		results:   results,
		msgClient: msgClient,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.With(zap.String("worker", id)),
		stopChan:  make(chan struct{}),
		runCache:  make(map[string]*runEntry),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.isRunning.Store(true)
	w.logger.Info("worker starting")

	if err := w.msgClient.SubscribeToJobs(ctx, w.handleJob); err != nil {
		return fmt.Errorf("failed to subscribe to jobs: %w", err)
	}

	go w.runMonitor(ctx)

	<-w.stopChan
	w.isRunning.Store(false)

	// Let in-flight jobs finish.
	w.wg.Wait()

	w.logger.Info("worker stopped",
		zap.Int64("processed", w.processed.Load()),
		zap.Int64("failed", w.failed.Load()))
	return nil
}

func (w *Worker) runMonitor(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.logger.Info("worker stats",
				zap.Int64("processed", w.processed.Load()),
				zap.Int64("failed", w.failed.Load()),
				zap.Int32("processing", w.processing.Load()))
		case <-w.stopChan:
			return
		}
	}
}

func (w *Worker) handleJob(msg messaging.JobMessage) {
	w.wg.Add(1)
	w.processing.Add(1)

	defer func() {
		w.processing.Add(-1)
		w.wg.Done()
	}()

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	err := w.processJobWithRetry(ctx, msg)

	duration := time.Since(start)
	if err != nil {
		w.logger.Error("job failed",
			zap.String("run_id", msg.RunID),
			zap.Int64("spatial_id", msg.SpatialID),
			zap.Duration("elapsed", duration),
			zap.Error(err))
		w.failed.Add(1)
	} else {
		w.logger.Info("job completed",
			zap.String("run_id", msg.RunID),
			zap.Int64("spatial_id", msg.SpatialID),
			zap.Duration("elapsed", duration))
		w.processed.Add(1)
	}
}

func (w *Worker) processJobWithRetry(ctx context.Context, msg messaging.JobMessage) error {
	maxRetries := w.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled")
		default:
		}

		lastErr = w.processSingleJob(ctx, msg, attempt)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}

		if attempt < maxRetries {
			w.logger.Warn("retrying job",
				zap.String("run_id", msg.RunID),
				zap.Int64("spatial_id", msg.SpatialID),
				zap.Int("attempt", attempt),
				zap.Int("max", maxRetries),
				zap.Error(lastErr))
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// isTransient reports whether the failure is worth retrying. Only read
// failures of the reference dataset qualify; configuration and metric
// failures repeat deterministically.
func isTransient(err error) bool {
	var jre *validation.JobReadError
	return errors.As(err, &jre)
}

func (w *Worker) processSingleJob(ctx context.Context, msg messaging.JobMessage, attempt int) error {
	entry, err := w.entryForRun(ctx, msg.RunID)
	if err != nil {
		w.recordJobFailure(ctx, msg, err, attempt)
		return err
	}

	if entry.run.Status == domain.RunStatusCancelled {
		w.logger.Info("skipping job of cancelled run",
			zap.String("run_id", msg.RunID),
			zap.Int64("spatial_id", msg.SpatialID))
		return nil
	}

	if entry.run.Status == domain.RunStatusPending {
		// First job of the run to reach a worker.
		if err := w.runs.UpdateRun(ctx, msg.RunID, map[string]any{
			"status": domain.RunStatusProcessing,
		}); err != nil {
			w.logger.Warn("failed to mark run processing", zap.Error(err))
		} else {
			entry.run.Status = domain.RunStatusProcessing
		}
	}

	job := validation.Job{SpatialID: msg.SpatialID, Lon: msg.Lon, Lat: msg.Lat}
	record, err := entry.validator.Compute(job)
	if err != nil {
		w.recordJobFailure(ctx, msg, err, attempt)
		return fmt.Errorf("compute failed: %w", err)
	}

	docs := resultDocuments(msg, record)
	if err := w.results.InsertResults(ctx, docs); err != nil {
		w.recordJobFailure(ctx, msg, err, attempt)
		return err
	}

	return w.recordJobSuccess(ctx, msg, attempt)
}

// entryForRun returns the cached validator for a run, building it on
// first use.
func (w *Worker) entryForRun(ctx context.Context, runID string) (*runEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.runCache[runID]; ok {
		return entry, nil
	}

	run, err := w.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	v, err := w.buildValidator(run)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	entry := &runEntry{run: run, validator: v}
	w.runCache[runID] = entry
	return entry, nil
}

// buildValidator translates the persisted run configuration into an
// engine Validator: adapters via the provider registry, plan keys and
// metric names via the engine registries.
func (w *Worker) buildValidator(run *domain.ValidationRun) (*validation.Validator, error) {
	datasets := make([]validation.DatasetSpec, 0, len(run.Datasets))
	for _, dc := range run.Datasets {
		adapter, err := w.registry.Build(dc, w.cfg.DataRoot)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, validation.DatasetSpec{
			Name:    dc.Name,
			Adapter: adapter,
			Columns: dc.Columns,
		})
	}

	masks := make([]validation.MaskSpec, 0, len(run.Masks))
	for _, mc := range run.Masks {
		adapter, err := w.registry.BuildMask(mc, w.cfg.DataRoot)
		if err != nil {
			return nil, err
		}
		masks = append(masks, validation.MaskSpec{Name: mc.Name, Adapter: adapter})
	}

	plan := make(validation.DispatchPlan, len(run.Plan))
	for keyStr, metricName := range run.Plan {
		key, err := validation.ParsePlanKey(keyStr)
		if err != nil {
			return nil, err
		}
		fn, err := validation.LookupMetric(metricName)
		if err != nil {
			return nil, err
		}
		plan[key] = fn
	}

	var period validation.Period
	if run.PeriodStart != nil {
		period.Start = *run.PeriodStart
	}
	if run.PeriodEnd != nil {
		period.End = *run.PeriodEnd
	}

	return validation.NewValidator(validation.Config{
		Datasets:        datasets,
		Masks:           masks,
		TemporalRefName: run.TemporalRef,
		ScalingRefName:  run.ScalingRef,
		ScalingMethod:   run.ScalingMethod,
		ScalingMinObs:   run.ScalingMinObs,
		Window:          time.Duration(run.WindowSeconds * float64(time.Second)),
		Period:          period,
		Plan:            plan,
		Logger:          w.logger,
	})
}

// resultDocuments flattens a computed record into the results sink shape,
// one document per combination.
func resultDocuments(msg messaging.JobMessage, record *validation.ResultRecord) []domain.ResultDocument {
	docs := make([]domain.ResultDocument, 0, len(record.Results))
	for key, res := range record.Results {
		docs = append(docs, domain.ResultDocument{
			RunID:          msg.RunID,
			SpatialID:      msg.SpatialID,
			Lon:            msg.Lon,
			Lat:            msg.Lat,
			Combination:    key,
			NObs:           res.NObs,
			Metrics:        res.Metrics,
			ScalingSkipped: res.ScalingSkipped,
			Error:          res.Error,
		})
	}
	return docs
}

func (w *Worker) recordJobFailure(ctx context.Context, msg messaging.JobMessage, jobErr error, attempt int) {
	if isTransient(jobErr) && attempt < w.cfg.MaxRetries {
		return // not final yet
	}
	w.finishJob(ctx, msg, domain.JobRecord{
		SpatialID: msg.SpatialID,
		Lon:       msg.Lon,
		Lat:       msg.Lat,
		Status:    domain.JobStatusError,
		Error:     jobErr.Error(),
		WorkerID:  w.id,
		Attempt:   attempt,
	})
}

func (w *Worker) recordJobSuccess(ctx context.Context, msg messaging.JobMessage, attempt int) error {
	return w.finishJob(ctx, msg, domain.JobRecord{
		SpatialID: msg.SpatialID,
		Lon:       msg.Lon,
		Lat:       msg.Lat,
		Status:    domain.JobStatusSuccess,
		WorkerID:  w.id,
		Attempt:   attempt,
	})
}

// finishJob writes the terminal job state, bumps the run counters and
// closes the run when the last job lands.
func (w *Worker) finishJob(ctx context.Context, msg messaging.JobMessage, job domain.JobRecord) error {
	idx := w.jobIndex(msg)
	if idx >= 0 {
		if err := w.runs.UpdateJob(ctx, msg.RunID, idx, job); err != nil {
			w.logger.Warn("failed to update job record", zap.Error(err))
		}
	}

	run, err := w.runs.BumpJobCounter(ctx, msg.RunID, job.Status == domain.JobStatusSuccess)
	if err != nil {
		return err
	}

	if run.JobsDone+run.JobsFailed >= len(run.Jobs) && run.Status == domain.RunStatusProcessing {
		status := domain.RunStatusSuccess
		if run.JobsFailed > 0 {
			status = domain.RunStatusError
		}
		now := time.Now()
		if err := w.runs.UpdateRun(ctx, msg.RunID, map[string]any{
			"status":       status,
			"completed_at": now,
		}); err != nil {
			w.logger.Warn("failed to close run", zap.Error(err))
		} else {
			w.logger.Info("run completed",
				zap.String("run_id", msg.RunID),
				zap.String("status", string(status)),
				zap.Int("done", run.JobsDone),
				zap.Int("failed", run.JobsFailed))
			w.evictRun(msg.RunID)
		}
	}

	return nil
}

func (w *Worker) jobIndex(msg messaging.JobMessage) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.runCache[msg.RunID]
	if !ok {
		return -1
	}
	for i, job := range entry.run.Jobs {
		if job.SpatialID == msg.SpatialID {
			return i
		}
	}
	return -1
}

func (w *Worker) evictRun(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.runCache, runID)
}

func (w *Worker) Stop() {
	if w.isRunning.CompareAndSwap(true, false) {
		w.logger.Info("stopping worker")
		close(w.stopChan)
	}
}

func (w *Worker) GetStats() map[string]any {
	return map[string]any{
		"id":         w.id,
		"running":    w.isRunning.Load(),
		"processed":  w.processed.Load(),
		"failed":     w.failed.Load(),
		"processing": w.processing.Load(),
	}
}

func (w *Worker) IsRunning() bool {
	return w.isRunning.Load()
}
