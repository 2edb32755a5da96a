package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/speakeasy-api/granary/internal/ids"
	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/types"
)

// GlobalStore is the SQLite implementation of storage.GlobalStore, backing
// ~/.granary/workers.db: Worker and Run rows shared across every workspace
// on the machine.
type GlobalStore struct {
	db   *sql.DB
	path string
}

// OpenGlobal opens (creating if necessary) the global database at path.
func OpenGlobal(path string) (*GlobalStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := RunGlobalMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &GlobalStore{db: db, path: path}, nil
}

func (g *GlobalStore) Close() error          { return g.db.Close() }
func (g *GlobalStore) Path() string          { return g.path }
func (g *GlobalStore) UnderlyingDB() *sql.DB { return g.db }

const workerSelectSQL = `
	SELECT id, runner_name, command, args, event_type, filters, concurrency, instance_path, status,
		error_message, pid, detached, created_at, updated_at, stopped_at, poll_cooldown_secs, last_event_id
	FROM workers`

func (g *GlobalStore) CreateWorker(ctx context.Context, in types.CreateWorker) (*types.Worker, error) {
	now := time.Now().UTC()
	id := ids.GenerateWorkerID()
	argsJSON, err := marshalTags(in.Args)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal worker args", err)
	}
	filtersJSON, err := marshalTags(in.Filters)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal worker filters", err)
	}
	concurrency := in.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	cooldown := in.PollCooldownSecs
	if cooldown == 0 {
		cooldown = 300
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO workers (id, runner_name, command, args, event_type, filters, concurrency, instance_path,
			status, detached, created_at, updated_at, poll_cooldown_secs, last_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?, 0)
	`, id, nullableStringPtr2(in.RunnerName), in.Command, argsJSON, string(in.EventType), filtersJSON, concurrency,
		in.InstancePath, boolToInt(in.Detached), now, now, cooldown)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "insert worker", err)
	}

	return &types.Worker{
		ID: id, RunnerName: in.RunnerName, Command: in.Command, Args: in.Args, EventType: in.EventType,
		Filters: in.Filters, Concurrency: concurrency, InstancePath: in.InstancePath, Status: types.WorkerPending,
		Detached: in.Detached, CreatedAt: now, UpdatedAt: now, PollCooldownSecs: cooldown,
	}, nil
}

func (g *GlobalStore) GetWorker(ctx context.Context, id string) (*types.Worker, error) {
	row := g.db.QueryRowContext(ctx, workerSelectSQL+` WHERE id = ?`, id)
	return scanWorker(row)
}

func (g *GlobalStore) UpdateWorkerStatus(ctx context.Context, id string, upd types.UpdateWorkerStatus) (*types.Worker, error) {
	now := time.Now().UTC()
	var stoppedAt any
	if upd.Status.IsStopped() {
		stoppedAt = now
	}
	_, err := g.db.ExecContext(ctx, `
		UPDATE workers SET status = ?, error_message = ?, pid = ?, updated_at = ?, stopped_at = COALESCE(?, stopped_at)
		WHERE id = ?
	`, string(upd.Status), nullableStringPtr2(upd.ErrorMessage), nullableIntPtr(upd.PID), now, stoppedAt, id)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "update worker status", err)
	}
	row := g.db.QueryRowContext(ctx, workerSelectSQL+` WHERE id = ?`, id)
	return scanWorker(row)
}

func (g *GlobalStore) AdvanceWorkerCursor(ctx context.Context, id string, lastEventID int64) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE workers SET last_event_id = ?, updated_at = ? WHERE id = ? AND last_event_id < ?
	`, lastEventID, time.Now().UTC(), id, lastEventID)
	if err != nil {
		return storage.Wrap(storage.KindIo, "advance worker cursor", err)
	}
	return nil
}

func (g *GlobalStore) ListWorkers(ctx context.Context, instancePath *string) ([]*types.Worker, error) {
	query := workerSelectSQL
	args := []any{}
	if instancePath != nil {
		query += ` WHERE instance_path = ?`
		args = append(args, *instancePath)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list workers", err)
	}
	defer rows.Close()

	var out []*types.Worker
	for rows.Next() {
		w, err := scanWorkerRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (g *GlobalStore) DeleteWorker(ctx context.Context, id string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, id)
	if err != nil {
		return storage.Wrap(storage.KindIo, "delete worker", err)
	}
	return nil
}

func (g *GlobalStore) PruneStoppedWorkers(ctx context.Context) (int, error) {
	res, err := g.db.ExecContext(ctx, `DELETE FROM workers WHERE status IN ('stopped', 'error')`)
	if err != nil {
		return 0, storage.Wrap(storage.KindIo, "prune stopped workers", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanWorker(row *sql.Row) (*types.Worker, error)      { return scanWorkerGeneric(row) }
func scanWorkerRows(rows *sql.Rows) (*types.Worker, error) { return scanWorkerGeneric(rows) }

func scanWorkerGeneric(r scannableRow) (*types.Worker, error) {
	var w types.Worker
	var runnerName, errorMessage sql.NullString
	var pid sql.NullInt64
	var detachedInt int
	var argsJSON, filtersJSON string
	var stoppedAt sql.NullTime

	if err := r.Scan(&w.ID, &runnerName, &w.Command, &argsJSON, &w.EventType, &filtersJSON, &w.Concurrency,
		&w.InstancePath, &w.Status, &errorMessage, &pid, &detachedInt, &w.CreatedAt, &w.UpdatedAt, &stoppedAt,
		&w.PollCooldownSecs, &w.LastEventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("worker not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan worker", err)
	}
	if runnerName.Valid {
		w.RunnerName = &runnerName.String
	}
	if errorMessage.Valid {
		w.ErrorMessage = &errorMessage.String
	}
	if pid.Valid {
		p := int(pid.Int64)
		w.PID = &p
	}
	if stoppedAt.Valid {
		w.StoppedAt = &stoppedAt.Time
	}
	w.Detached = detachedInt != 0

	args, err := unmarshalTags(argsJSON)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "unmarshal worker args", err)
	}
	w.Args = args
	filters, err := unmarshalTags(filtersJSON)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "unmarshal worker filters", err)
	}
	w.Filters = filters
	return &w, nil
}

const runSelectSQL = `
	SELECT id, worker_id, event_id, event_type, entity_id, command, args, status, exit_code, error_message,
		attempt, max_attempts, next_retry_at, pid, log_path, started_at, completed_at, created_at, updated_at
	FROM runs`

func (g *GlobalStore) CreateRun(ctx context.Context, in types.CreateRun) (*types.Run, error) {
	now := time.Now().UTC()
	id := in.ID
	if id == "" {
		id = ids.GenerateRunID()
	}
	argsJSON, err := marshalTags(in.Args)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "marshal run args", err)
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO runs (id, worker_id, event_id, event_type, entity_id, command, args, status, attempt, max_attempts,
			log_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', 1, ?, ?, ?, ?)
	`, id, in.WorkerID, in.EventID, string(in.EventType), in.EntityID, in.Command, argsJSON, maxAttempts,
		nullableStringPtr2(in.LogPath), now, now)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "insert run", err)
	}

	return &types.Run{
		ID: id, WorkerID: in.WorkerID, EventID: in.EventID, EventType: in.EventType, EntityID: in.EntityID,
		Command: in.Command, Args: in.Args, Status: types.RunPending, Attempt: 1, MaxAttempts: maxAttempts,
		LogPath: in.LogPath, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (g *GlobalStore) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := g.db.QueryRowContext(ctx, runSelectSQL+` WHERE id = ?`, id)
	return scanRun(row)
}

func (g *GlobalStore) UpdateRunStatus(ctx context.Context, id string, upd types.UpdateRunStatus) (*types.Run, error) {
	now := time.Now().UTC()
	var startedAt, completedAt any
	if upd.Status == types.RunRunning {
		startedAt = now
	}
	if upd.Status.IsFinished() {
		completedAt = now
	}
	_, err := g.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, exit_code = ?, error_message = ?, pid = ?, updated_at = ?,
			started_at = COALESCE(?, started_at), completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(upd.Status), nullableIntPtr(upd.ExitCode), nullableStringPtr2(upd.ErrorMessage), nullableIntPtr(upd.PID),
		now, startedAt, completedAt, id)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "update run status", err)
	}
	row := g.db.QueryRowContext(ctx, runSelectSQL+` WHERE id = ?`, id)
	return scanRun(row)
}

func (g *GlobalStore) ScheduleRunRetry(ctx context.Context, id string, sched types.ScheduleRetry) (*types.Run, error) {
	_, err := g.db.ExecContext(ctx, `
		UPDATE runs SET status = 'pending', attempt = ?, next_retry_at = ?, updated_at = ? WHERE id = ?
	`, sched.Attempt, sched.NextRetryAt, time.Now().UTC(), id)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "schedule run retry", err)
	}
	row := g.db.QueryRowContext(ctx, runSelectSQL+` WHERE id = ?`, id)
	return scanRun(row)
}

func (g *GlobalStore) ListRuns(ctx context.Context, workerID *string, status []types.RunStatus) ([]*types.Run, error) {
	query := runSelectSQL + ` WHERE 1 = 1`
	args := []any{}
	if workerID != nil {
		query += ` AND worker_id = ?`
		args = append(args, *workerID)
	}
	if len(status) > 0 {
		query += ` AND status IN (` + placeholders(len(status)) + `)`
		for _, st := range status {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC`

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "list runs", err)
	}
	defer rows.Close()

	var out []*types.Run
	for rows.Next() {
		r, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *GlobalStore) DueRetries(ctx context.Context, asOf time.Time) ([]*types.Run, error) {
	rows, err := g.db.QueryContext(ctx, runSelectSQL+` WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= ?`, asOf)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "due retries", err)
	}
	defer rows.Close()

	var out []*types.Run
	for rows.Next() {
		r, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *GlobalStore) RunningWithPID(ctx context.Context) ([]*types.Run, error) {
	rows, err := g.db.QueryContext(ctx, runSelectSQL+` WHERE status = 'running' AND pid IS NOT NULL`)
	if err != nil {
		return nil, storage.Wrap(storage.KindIo, "running with pid", err)
	}
	defer rows.Close()

	var out []*types.Run
	for rows.Next() {
		r, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row *sql.Row) (*types.Run, error)      { return scanRunGeneric(row) }
func scanRunRows(rows *sql.Rows) (*types.Run, error) { return scanRunGeneric(rows) }

func scanRunGeneric(r scannableRow) (*types.Run, error) {
	var run types.Run
	var errorMessage, logPath sql.NullString
	var exitCode, pid sql.NullInt64
	var nextRetryAt, startedAt, completedAt sql.NullTime
	var argsJSON string

	if err := r.Scan(&run.ID, &run.WorkerID, &run.EventID, &run.EventType, &run.EntityID, &run.Command, &argsJSON,
		&run.Status, &exitCode, &errorMessage, &run.Attempt, &run.MaxAttempts, &nextRetryAt, &pid, &logPath,
		&startedAt, &completedAt, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.NotFoundf("run not found")
		}
		return nil, storage.Wrap(storage.KindIo, "scan run", err)
	}
	if exitCode.Valid {
		c := int(exitCode.Int64)
		run.ExitCode = &c
	}
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}
	if nextRetryAt.Valid {
		run.NextRetryAt = &nextRetryAt.Time
	}
	if pid.Valid {
		p := int(pid.Int64)
		run.PID = &p
	}
	if logPath.Valid {
		run.LogPath = &logPath.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	args, err := unmarshalTags(argsJSON)
	if err != nil {
		return nil, storage.Wrap(storage.KindSerialization, "unmarshal run args", err)
	}
	run.Args = args
	return &run, nil
}

func nullableIntPtr(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
