package validation

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config is the full construction-time configuration of a Validator.
// All fields are read-only after construction; a single Validator is
// safe to share across concurrently executing jobs as long as the
// adapters tolerate concurrent reads.
type Config struct {
	Datasets        []DatasetSpec
	Masks           []MaskSpec
	TemporalRefName string
	ScalingRefName  string
	ScalingMethod   string // empty disables scaling
	ScalingMinObs   int
	Window          time.Duration
	Period          Period
	Plan            DispatchPlan
	Logger          *zap.Logger
}

// CombinationResult is the outcome for one dataset/column combination of
// one job. Failed combinations carry Error instead of Metrics so that
// downstream consumers can tell "no data" from "not attempted".
type CombinationResult struct {
	Columns        Combination
	NObs           int
	Metrics        map[string]float64
	ScalingSkipped []string
	Error          string
}

// ResultRecord is the per-job output: job identity plus one entry per
// combination key. Immutable once returned.
type ResultRecord struct {
	Job     Job
	Results map[string]CombinationResult
}

// Validator orchestrates the per-job pipeline: read, mask, temporally
// match, rescale and dispatch metric functions over dataset combinations.
type Validator struct {
	datasets   []DatasetSpec
	refName    string
	scalingRef string
	dm         *DataManager
	matcher    *TemporalMatcher
	scaling    *ScalingEngine // nil when scaling is disabled
	plan       DispatchPlan
	logger     *zap.Logger
}

// NewValidator validates the configuration and wires the pipeline.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.Datasets) == 0 {
		return nil, fmt.Errorf("no datasets configured")
	}
	var refFound bool
	for _, d := range cfg.Datasets {
		if d.Name == cfg.TemporalRefName {
			refFound = true
			break
		}
	}
	if !refFound {
		return nil, fmt.Errorf("temporal reference %q not among configured datasets", cfg.TemporalRefName)
	}
	if err := cfg.Plan.Validate(len(cfg.Datasets)); err != nil {
		return nil, err
	}
	matcher, err := NewTemporalMatcher(cfg.Window)
	if err != nil {
		return nil, err
	}
	var engine *ScalingEngine
	if cfg.ScalingMethod != "" {
		engine, err = NewScalingEngine(cfg.ScalingMethod, cfg.ScalingMinObs, cfg.Logger)
		if err != nil {
			return nil, err
		}
	}
	scalingRef := cfg.ScalingRefName
	if scalingRef == "" {
		scalingRef = cfg.TemporalRefName
	}
	return &Validator{
		datasets:   cfg.Datasets,
		refName:    cfg.TemporalRefName,
		scalingRef: scalingRef,
		dm:         NewDataManager(cfg.Datasets, cfg.Masks, cfg.TemporalRefName, cfg.Period, cfg.Logger),
		matcher:    matcher,
		scaling:    engine,
		plan:       cfg.Plan,
		logger:     cfg.Logger,
	}, nil
}

// Compute runs the full pipeline for one spatial job. A reference read
// failure aborts with JobReadError; everything else is absorbed into the
// record. Re-running with unchanged inputs yields an identical record.
func (v *Validator) Compute(job Job) (*ResultRecord, error) {
	start := time.Now()
	record := &ResultRecord{Job: job, Results: make(map[string]CombinationResult)}

	data, err := v.dm.Fetch(job)
	if err != nil {
		var jre *JobReadError
		if errors.As(err, &jre) {
			return nil, err
		}
		return nil, &JobReadError{Dataset: v.refName, Err: err}
	}

	ref := v.matcher.ApplyMasks(data.Reference, data.Masks)
	if ref.Len() == 0 {
		v.logger.Info("reference series empty after masking",
			zap.String("job", job.String()))
		return record, nil
	}

	for _, key := range v.plan.Keys() {
		if err := v.dispatchPlan(record, job, key, v.plan[key], ref, data); err != nil {
			return nil, err
		}
	}

	v.logger.Debug("job computed",
		zap.String("job", job.String()),
		zap.Int("combinations", len(record.Results)),
		zap.Duration("elapsed", time.Since(start)))
	return record, nil
}

// dispatchPlan builds the n-way frame for one plan entry and dispatches
// the metric function over every size-k combination.
func (v *Validator) dispatchPlan(record *ResultRecord, job Job, key PlanKey, metricFn MetricFunc, ref *Series, data *JobData) error {
	others := v.selectDatasets(key.N-1, data.Others)
	if len(others) < key.N-1 {
		v.logger.Warn("not enough readable datasets for plan entry",
			zap.String("plan", key.String()),
			zap.Int("available", len(others)+1),
			zap.String("job", job.String()))
		return nil
	}

	frame, err := v.matcher.Match(v.refName, ref, others, data.Series)
	if err != nil {
		return err
	}
	if frame.Len() == 0 {
		return nil
	}

	for _, combo := range EnumerateCombinations(frame, key.K) {
		record.Results[combo.Key()] = v.computeCombination(frame, combo, metricFn)
	}
	return nil
}

// selectDatasets picks the first n surviving comparison datasets by
// declaration order.
func (v *Validator) selectDatasets(n int, others []DatasetSpec) []DatasetSpec {
	if n > len(others) {
		n = len(others)
	}
	return others[:n]
}

// computeCombination scales the combination's projection of the matched
// frame and invokes the metric function. Failures are recorded per
// combination, never propagated.
func (v *Validator) computeCombination(frame *Frame, combo Combination, metricFn MetricFunc) CombinationResult {
	res := CombinationResult{Columns: combo, NObs: frame.Len()}

	proj, err := frame.Project(combo)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if v.scaling != nil {
		scaled, skipped, err := v.scaling.ScaleFrame(proj, v.scalingRefColumn(proj), frame)
		if err != nil {
			v.logger.Warn("scaling failed for combination",
				zap.String("combination", combo.Key()),
				zap.Error(err))
			res.Error = err.Error()
			return res
		}
		res.ScalingSkipped = skipped
		proj = scaled
	}

	metrics, err := metricSafe(metricFn, proj)
	if err != nil {
		v.logger.Warn("metric failed for combination",
			zap.String("combination", combo.Key()),
			zap.Error(err))
		res.Error = (&MetricError{Combination: combo.Key(), Err: err}).Error()
		return res
	}
	metrics["n_obs"] = float64(frame.Len())
	res.Metrics = metrics
	return res
}

// scalingRefColumn picks the designated scaling reference's column inside
// the projection, falling back to the first (temporal reference) column.
func (v *Validator) scalingRefColumn(proj *Frame) ColumnRef {
	for _, c := range proj.Columns {
		if c.Ref.Dataset == v.scalingRef {
			return c.Ref
		}
	}
	return proj.Columns[0].Ref
}

// metricSafe converts a metric panic into an error so one combination
// cannot abort the sibling combinations of the job.
func metricSafe(fn MetricFunc, proj *Frame) (out map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metric panicked: %v", r)
		}
	}()
	return fn(proj)
}
