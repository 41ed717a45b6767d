package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
	"github.com/and161185/caseflow/internal/store"
)

// RunRepo persists sync cycle history.
type RunRepo struct{ s store.Store }

var _ repository.RunRepository = (*RunRepo)(nil)

// NewRunRepo constructs a run repository.
func NewRunRepo(s store.Store) *RunRepo { return &RunRepo{s: s} }

const runCols = `id, direction, started_at, finished_at, synced, failed, deferred, imported, updated, skipped, status, errors`

// Save inserts a finished run.
func (r *RunRepo) Save(ctx context.Context, run model.SyncRun) error {
	const ins = `INSERT INTO sync_runs (` + runCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var errsJSON sql.NullString
	if len(run.Errors) > 0 {
		b, err := json.Marshal(run.Errors)
		if err != nil {
			return err
		}
		errsJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := r.s.Execute(ctx, ins, run.ID.String(), run.Direction,
		store.FormatTime(run.StartedAt), store.FormatTime(run.FinishedAt),
		run.Synced, run.Failed, run.Deferred, run.Imported, run.Updated, run.Skipped,
		run.Status, errsJSON)
	return err
}

func scanRun(row scanner) (model.SyncRun, error) {
	var (
		run               model.SyncRun
		id                string
		started, finished string
		errsJSON          sql.NullString
	)
	err := row.Scan(&id, &run.Direction, &started, &finished, &run.Synced, &run.Failed, &run.Deferred,
		&run.Imported, &run.Updated, &run.Skipped, &run.Status, &errsJSON)
	if err != nil {
		return model.SyncRun{}, err
	}
	if run.ID, err = uuid.FromString(id); err != nil {
		return model.SyncRun{}, err
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return model.SyncRun{}, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return model.SyncRun{}, err
	}
	if errsJSON.Valid {
		if err := json.Unmarshal([]byte(errsJSON.String), &run.Errors); err != nil {
			return model.SyncRun{}, err
		}
	}
	return run, nil
}

// Recent returns the latest runs, newest first.
func (r *RunRepo) Recent(ctx context.Context, limit int) ([]model.SyncRun, error) {
	const q = `SELECT ` + runCols + ` FROM sync_runs ORDER BY started_at DESC LIMIT ?`
	rows, err := r.s.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Last returns the newest run of the given direction.
func (r *RunRepo) Last(ctx context.Context, direction string) (*model.SyncRun, error) {
	const q = `SELECT ` + runCols + ` FROM sync_runs WHERE direction = ? ORDER BY started_at DESC LIMIT 1`
	run, err := scanRun(r.s.QueryRow(ctx, q, direction))
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}
