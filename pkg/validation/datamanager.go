package validation

import (
	"errors"

	"go.uber.org/zap"
)

// DatasetSpec is one configured dataset source. The declaration order of
// specs determines match order and combination-key ordering.
type DatasetSpec struct {
	Name    string
	Adapter Adapter
	Columns []string
}

// MaskSpec is a configured masking dataset.
type MaskSpec struct {
	Name    string
	Adapter MaskAdapter
}

// DataManager reads and prepares the raw series for one spatial job from
// all configured sources and applies the period filter. It holds no
// per-job state; a single instance is shared read-only across jobs.
type DataManager struct {
	specs   []DatasetSpec
	masks   []MaskSpec
	refName string
	period  Period
	logger  *zap.Logger
}

// NewDataManager wires the configured dataset and mask specs. refName
// must name the temporal reference dataset among specs.
func NewDataManager(specs []DatasetSpec, masks []MaskSpec, refName string, period Period, logger *zap.Logger) *DataManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataManager{
		specs:   specs,
		masks:   masks,
		refName: refName,
		period:  period,
		logger:  logger,
	}
}

// JobData is the prepared input of one job: the reference series, the
// surviving comparison datasets in declaration order, and the masks.
type JobData struct {
	Reference *Series
	Others    []DatasetSpec
	Series    map[string]*Series
	Masks     []*MaskSeries
}

// Fetch reads every configured source for the job. A non-reference
// dataset that fails to read is dropped and logged; a reference failure
// aborts the job with JobReadError. Mask read failures drop the mask.
func (dm *DataManager) Fetch(job Job) (*JobData, error) {
	out := &JobData{Series: make(map[string]*Series, len(dm.specs))}

	for _, spec := range dm.specs {
		s, err := spec.Adapter.Fetch(job)
		if err != nil {
			if spec.Name == dm.refName {
				return nil, &JobReadError{Dataset: spec.Name, Err: err}
			}
			dm.logger.Warn("dropping unreadable dataset",
				zap.String("dataset", spec.Name),
				zap.String("job", job.String()),
				zap.Error(err))
			continue
		}
		s = s.Clip(dm.period)
		if spec.Name == dm.refName {
			out.Reference = s
		} else {
			out.Others = append(out.Others, spec)
		}
		out.Series[spec.Name] = s
	}

	if out.Reference == nil {
		return nil, &JobReadError{Dataset: dm.refName, Err: errMissingReference}
	}

	for _, m := range dm.masks {
		ms, err := m.Adapter.FetchMask(job)
		if err != nil {
			dm.logger.Warn("dropping unreadable mask",
				zap.String("mask", m.Name),
				zap.String("job", job.String()),
				zap.Error(err))
			continue
		}
		out.Masks = append(out.Masks, clipMask(ms, dm.period))
	}

	return out, nil
}

var errMissingReference = errors.New("temporal reference dataset not among configured specs")

func clipMask(m *MaskSeries, p Period) *MaskSeries {
	out := &MaskSeries{}
	for i, t := range m.Times {
		if !p.Contains(t) {
			continue
		}
		out.Times = append(out.Times, t)
		out.Flags = append(out.Flags, m.Flags[i])
	}
	return out
}
