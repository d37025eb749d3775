package infrastructure

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"geoval-system/internal/domain"
	"geoval-system/pkg/validation"
)

// AdapterBuilder constructs a dataset adapter from its run configuration.
// Relative dataset paths are resolved against the data root.
type AdapterBuilder func(cfg domain.DatasetConfig, dataRoot string, logger *zap.Logger) (validation.Adapter, error)

// Registry maps configuration driver names to adapter builders.
type Registry struct {
	builders map[string]AdapterBuilder
	logger   *zap.Logger
}

// NewRegistry returns a registry with the built-in drivers registered.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{builders: make(map[string]AdapterBuilder), logger: logger}
	r.Register("ascii", buildASCIIAdapter)
	return r
}

// Register adds or replaces a driver.
func (r *Registry) Register(driver string, b AdapterBuilder) {
	r.builders[driver] = b
}

// Build resolves the driver of a dataset config and constructs its
// adapter, wrapping it in a self-masking adapter when the config asks
// for one.
func (r *Registry) Build(cfg domain.DatasetConfig, dataRoot string) (validation.Adapter, error) {
	b, ok := r.builders[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("dataset %q: unknown driver %q", cfg.Name, cfg.Driver)
	}
	adapter, err := b(cfg, dataRoot, r.logger)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", cfg.Name, err)
	}
	if cfg.SelfMask != nil {
		op, err := validation.ParseCompareOp(cfg.SelfMask.Op)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", cfg.Name, err)
		}
		adapter = &validation.SelfMaskingAdapter{
			Adapter:   adapter,
			Op:        op,
			Threshold: cfg.SelfMask.Threshold,
			Column:    cfg.SelfMask.Column,
		}
	}
	return adapter, nil
}

// BuildMask constructs a mask adapter: the source dataset adapter plus the
// threshold rule turning its column into boolean flags.
func (r *Registry) BuildMask(cfg domain.MaskConfig, dataRoot string) (validation.MaskAdapter, error) {
	adapter, err := r.Build(cfg.Source, dataRoot)
	if err != nil {
		return nil, fmt.Errorf("mask %q: %w", cfg.Name, err)
	}
	op, err := validation.ParseCompareOp(cfg.Rule.Op)
	if err != nil {
		return nil, fmt.Errorf("mask %q: %w", cfg.Name, err)
	}
	return &validation.MaskingAdapter{
		Adapter:   adapter,
		Op:        op,
		Threshold: cfg.Rule.Threshold,
		Column:    cfg.Rule.Column,
	}, nil
}

func buildASCIIAdapter(cfg domain.DatasetConfig, dataRoot string, logger *zap.Logger) (validation.Adapter, error) {
	dir := cfg.Path
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(dataRoot, dir)
	}
	adapter := &validation.ProviderAdapter{
		Name:       cfg.Name,
		IDs:        NewASCIIReader(dir, logger),
		Columns:    cfg.Columns,
		LookupByID: cfg.LookupByID,
		Logger:     logger,
	}
	if cfg.GridPath != "" {
		gridPath := cfg.GridPath
		if !filepath.IsAbs(gridPath) {
			gridPath = filepath.Join(dataRoot, gridPath)
		}
		grid, err := LoadGrid(gridPath)
		if err != nil {
			return nil, err
		}
		adapter.Grid = grid
	}
	return adapter, nil
}
