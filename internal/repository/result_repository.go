package repository

import (
	"context"
	"fmt"
	"time"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"geoval-system/internal/domain"
)

type ResultRepository interface {
	InsertResults(ctx context.Context, results []domain.ResultDocument) error
	ListByRun(ctx context.Context, runID string, limit int) ([]domain.ResultDocument, error)
	ListBySpatialID(ctx context.Context, runID string, spatialID int64) ([]domain.ResultDocument, error)
}

type rethinkDBResultRepository struct {
	session *r.Session
	table   string
}

func NewResultRepository(session *r.Session, table string) ResultRepository {
	return &rethinkDBResultRepository{
		session: session,
		table:   table,
	}
}

// InsertResults stores one document per combination of one computed job.
func (repo *rethinkDBResultRepository) InsertResults(ctx context.Context, results []domain.ResultDocument) error {
	if len(results) == 0 {
		return nil
	}

	now := time.Now()
	for i := range results {
		results[i].CreatedAt = now
		results[i].UpdatedAt = now
	}

	_, err := r.Table(repo.table).Insert(results).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to insert results: %w", err)
	}

	return nil
}

func (repo *rethinkDBResultRepository) ListByRun(ctx context.Context, runID string, limit int) ([]domain.ResultDocument, error) {
	cursor, err := r.Table(repo.table).
		GetAllByIndex("run_id", runID).
		OrderBy("spatial_id", "combination").
		Limit(limit).
		Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer cursor.Close()

	var results []domain.ResultDocument
	if err := cursor.All(&results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}

	return results, nil
}

func (repo *rethinkDBResultRepository) ListBySpatialID(ctx context.Context, runID string, spatialID int64) ([]domain.ResultDocument, error) {
	cursor, err := r.Table(repo.table).
		GetAllByIndex("spatial_id", spatialID).
		Filter(r.Row.Field("run_id").Eq(runID)).
		OrderBy("combination").
		Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to list results for location %d: %w", spatialID, err)
	}
	defer cursor.Close()

	var results []domain.ResultDocument
	if err := cursor.All(&results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}

	return results, nil
}
