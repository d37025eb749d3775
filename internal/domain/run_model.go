package domain

import (
	"time"
)

type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusSuccess    RunStatus = "success"
	RunStatusError      RunStatus = "error"
	RunStatusCancelled  RunStatus = "cancelled"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
)

// DatasetConfig describes one time-series provider of a run. Driver names
// are resolved through the infrastructure provider registry.
type DatasetConfig struct {
	Name       string    `gorethink:"name" json:"name" validate:"required"`
	Driver     string    `gorethink:"driver" json:"driver" validate:"required"`
	Path       string    `gorethink:"path" json:"path" validate:"required"`
	GridPath   string    `gorethink:"grid_path,omitempty" json:"grid_path,omitempty"`
	Columns    []string  `gorethink:"columns" json:"columns" validate:"required,min=1"`
	LookupByID bool      `gorethink:"lookup_by_id" json:"lookup_by_id"`
	SelfMask   *MaskRule `gorethink:"self_mask,omitempty" json:"self_mask,omitempty"`
}

// MaskRule is a threshold predicate over one column.
type MaskRule struct {
	Column    string  `gorethink:"column" json:"column" validate:"required"`
	Op        string  `gorethink:"op" json:"op" validate:"required,oneof=< <= > >= == !="`
	Threshold float64 `gorethink:"threshold" json:"threshold"`
}

// MaskConfig is an external mask: a separate provider whose flagged rows
// exclude temporally matching reference observations.
type MaskConfig struct {
	Name   string        `gorethink:"name" json:"name" validate:"required"`
	Source DatasetConfig `gorethink:"source" json:"source" validate:"required"`
	Rule   MaskRule      `gorethink:"rule" json:"rule" validate:"required"`
}

// JobRecord is one spatial job of a run with its processing state.
type JobRecord struct {
	SpatialID int64     `gorethink:"spatial_id" json:"spatial_id"`
	Lon       float64   `gorethink:"lon" json:"lon"`
	Lat       float64   `gorethink:"lat" json:"lat"`
	Status    JobStatus `gorethink:"status" json:"status"`
	Error     string    `gorethink:"error,omitempty" json:"error,omitempty"`
	WorkerID  string    `gorethink:"worker_id,omitempty" json:"worker_id,omitempty"`
	Attempt   int       `gorethink:"attempt,omitempty" json:"attempt,omitempty"`
}

// ValidationRun is the persisted run document: the full configuration of
// one validation campaign plus its job list and progress counters.
type ValidationRun struct {
	ID            string            `gorethink:"id,omitempty" json:"id"`
	Name          string            `gorethink:"name" json:"name"`
	Status        RunStatus         `gorethink:"status" json:"status"`
	Datasets      []DatasetConfig   `gorethink:"datasets" json:"datasets"`
	Masks         []MaskConfig      `gorethink:"masks,omitempty" json:"masks,omitempty"`
	TemporalRef   string            `gorethink:"temporal_ref" json:"temporal_ref"`
	ScalingRef    string            `gorethink:"scaling_ref,omitempty" json:"scaling_ref,omitempty"`
	ScalingMethod string            `gorethink:"scaling_method,omitempty" json:"scaling_method,omitempty"`
	ScalingMinObs int               `gorethink:"scaling_min_obs,omitempty" json:"scaling_min_obs,omitempty"`
	WindowSeconds float64           `gorethink:"window_seconds" json:"window_seconds"`
	PeriodStart   *time.Time        `gorethink:"period_start,omitempty" json:"period_start,omitempty"`
	PeriodEnd     *time.Time        `gorethink:"period_end,omitempty" json:"period_end,omitempty"`
	Plan          map[string]string `gorethink:"plan" json:"plan"`
	Jobs          []JobRecord       `gorethink:"jobs" json:"jobs"`
	JobsDone      int               `gorethink:"jobs_done" json:"jobs_done"`
	JobsFailed    int               `gorethink:"jobs_failed" json:"jobs_failed"`
	Error         string            `gorethink:"error,omitempty" json:"error,omitempty"`
	CreatedAt     time.Time         `gorethink:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `gorethink:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time        `gorethink:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// CreateRunRequest is the API payload for submitting a run.
type CreateRunRequest struct {
	Name          string            `json:"name"`
	Datasets      []DatasetConfig   `json:"datasets" validate:"required,min=2,dive"`
	Masks         []MaskConfig      `json:"masks,omitempty" validate:"omitempty,dive"`
	TemporalRef   string            `json:"temporal_ref" validate:"required"`
	ScalingRef    string            `json:"scaling_ref,omitempty"`
	ScalingMethod string            `json:"scaling_method,omitempty" validate:"omitempty,oneof=min_max mean_std lin_cdf_match cdf_match triple_collocation"`
	ScalingMinObs int               `json:"scaling_min_obs,omitempty" validate:"omitempty,min=2"`
	WindowSeconds float64           `json:"window_seconds" validate:"gte=0"`
	PeriodStart   *time.Time        `json:"period_start,omitempty"`
	PeriodEnd     *time.Time        `json:"period_end,omitempty"`
	Plan          map[string]string `json:"plan" validate:"required,min=1"`
	Jobs          []JobRecord       `json:"jobs" validate:"required,min=1"`
}

// ResultDocument is the results-sink entry: one document per job per
// dataset/column combination, indexed by run and spatial id.
type ResultDocument struct {
	ID             string             `gorethink:"id,omitempty" json:"id"`
	RunID          string             `gorethink:"run_id" json:"run_id"`
	SpatialID      int64              `gorethink:"spatial_id" json:"spatial_id"`
	Lon            float64            `gorethink:"lon" json:"lon"`
	Lat            float64            `gorethink:"lat" json:"lat"`
	Combination    string             `gorethink:"combination" json:"combination"`
	NObs           int                `gorethink:"n_obs" json:"n_obs"`
	Metrics        map[string]float64 `gorethink:"metrics,omitempty" json:"metrics,omitempty"`
	ScalingSkipped []string           `gorethink:"scaling_skipped,omitempty" json:"scaling_skipped,omitempty"`
	Error          string             `gorethink:"error,omitempty" json:"error,omitempty"`
	CreatedAt      time.Time          `gorethink:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `gorethink:"updated_at" json:"updated_at"`
}
