package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"geoval-system/internal/domain"
)

var ErrRunNotFound = errors.New("run not found")

type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.ValidationRun) error
	GetRun(ctx context.Context, id string) (*domain.ValidationRun, error)
	UpdateRun(ctx context.Context, id string, updates map[string]any) error
	ListRuns(ctx context.Context, limit int) ([]domain.ValidationRun, error)
	UpdateJob(ctx context.Context, runID string, jobIndex int, job domain.JobRecord) error
	BumpJobCounter(ctx context.Context, runID string, success bool) (*domain.ValidationRun, error)
}

type rethinkDBRunRepository struct {
	session *r.Session
	table   string
}

func NewRunRepository(session *r.Session, table string) RunRepository {
	return &rethinkDBRunRepository{
		session: session,
		table:   table,
	}
}

func (repo *rethinkDBRunRepository) CreateRun(ctx context.Context, run *domain.ValidationRun) error {
	run.CreatedAt = time.Now()
	run.UpdatedAt = time.Now()

	result, err := r.Table(repo.table).Insert(run).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	if len(result.GeneratedKeys) > 0 {
		run.ID = result.GeneratedKeys[0]
	}

	return nil
}

func (repo *rethinkDBRunRepository) GetRun(ctx context.Context, id string) (*domain.ValidationRun, error) {
	cursor, err := r.Table(repo.table).Get(id).Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return nil, ErrRunNotFound
	}

	var run domain.ValidationRun
	if err := cursor.One(&run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}

	return &run, nil
}

func (repo *rethinkDBRunRepository) UpdateRun(ctx context.Context, id string, updates map[string]any) error {
	updates["updated_at"] = time.Now()

	_, err := r.Table(repo.table).Get(id).Update(updates).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

func (repo *rethinkDBRunRepository) ListRuns(ctx context.Context, limit int) ([]domain.ValidationRun, error) {
	cursor, err := r.Table(repo.table).
		OrderBy(r.Desc("created_at")).
		Limit(limit).
		Without("jobs").
		Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cursor.Close()

	var runs []domain.ValidationRun
	if err := cursor.All(&runs); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	return runs, nil
}

// UpdateJob replaces one entry of the run's job list.
func (repo *rethinkDBRunRepository) UpdateJob(ctx context.Context, runID string, jobIndex int, job domain.JobRecord) error {
	_, err := r.Table(repo.table).Get(runID).Update(map[string]any{
		"jobs":       r.Row.Field("jobs").ChangeAt(jobIndex, job),
		"updated_at": time.Now(),
	}).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to update job %d of run %s: %w", jobIndex, runID, err)
	}

	return nil
}

// BumpJobCounter atomically increments the done or failed counter and
// returns the updated run so the caller can detect completion.
func (repo *rethinkDBRunRepository) BumpJobCounter(ctx context.Context, runID string, success bool) (*domain.ValidationRun, error) {
	field := "jobs_done"
	if !success {
		field = "jobs_failed"
	}

	_, err := r.Table(repo.table).Get(runID).Update(map[string]any{
		field:        r.Row.Field(field).Add(1),
		"updated_at": time.Now(),
	}).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to bump %s of run %s: %w", field, runID, err)
	}

	return repo.GetRun(ctx, runID)
}
