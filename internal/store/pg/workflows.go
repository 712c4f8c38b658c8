package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

// WorkflowStore implements store.WorkflowStore.
type WorkflowStore struct {
	db *sql.DB
}

func NewWorkflowStore(db *sql.DB) *WorkflowStore { return &WorkflowStore{db: db} }

const workflowCols = `id, owner_id, name, steps_json, is_active, created_at, updated_at`

func scanWorkflow(scan func(dest ...any) error) (*store.Workflow, error) {
	var w store.Workflow
	err := scan(&w.ID, &w.OwnerID, &w.Name, &w.StepsJSON, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select workflow: %w", err)
	}
	return &w, nil
}

func (s *WorkflowStore) Create(ctx context.Context, w *store.Workflow) error {
	if w.ID == "" {
		w.ID = store.NewID()
	}
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = w.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.OwnerID, w.Name, w.StepsJSON, w.IsActive, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *WorkflowStore) Update(ctx context.Context, w *store.Workflow) error {
	w.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name = $1, steps_json = $2, is_active = $3, updated_at = $4
		 WHERE id = $5 AND owner_id = $6`,
		w.Name, w.StepsJSON, w.IsActive, w.UpdatedAt, w.ID, w.OwnerID)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "workflows", w.ID)
	}
	return nil
}

func (s *WorkflowStore) Get(ctx context.Context, id string) (*store.Workflow, error) {
	return scanWorkflow(s.db.QueryRowContext(ctx,
		`SELECT `+workflowCols+` FROM workflows WHERE id = $1`, id).Scan)
}

func (s *WorkflowStore) ListForUser(ctx context.Context, ownerID string) ([]*store.Workflow, error) {
	return s.list(ctx, `SELECT `+workflowCols+` FROM workflows WHERE owner_id = $1 ORDER BY name`, ownerID)
}

func (s *WorkflowStore) ListActiveForUser(ctx context.Context, ownerID string) ([]*store.Workflow, error) {
	return s.list(ctx,
		`SELECT `+workflowCols+` FROM workflows WHERE owner_id = $1 AND is_active ORDER BY name`,
		ownerID)
}

func (s *WorkflowStore) list(ctx context.Context, q string, args ...any) ([]*store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*store.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *WorkflowStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflows WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "workflows", id)
	}
	return nil
}

const runCols = `id, workflow_id, owner_id, status, steps_result_json, started_at, completed_at, error`

func scanRun(scan func(dest ...any) error) (*store.WorkflowRun, error) {
	var r store.WorkflowRun
	var completed sql.NullTime
	err := scan(&r.ID, &r.WorkflowID, &r.OwnerID, &r.Status, &r.StepsResultJSON, &r.StartedAt, &completed, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select workflow run: %w", err)
	}
	r.CompletedAt = nullTime(completed)
	return &r, nil
}

func (s *WorkflowStore) CreateRun(ctx context.Context, r *store.WorkflowRun) error {
	if r.ID == "" {
		r.ID = store.NewID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = store.RunStatusRunning
	}
	if r.StepsResultJSON == "" {
		r.StepsResultJSON = "[]"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (`+runCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.WorkflowID, r.OwnerID, r.Status, r.StepsResultJSON, r.StartedAt, r.CompletedAt, r.Error)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

func (s *WorkflowStore) UpdateRun(ctx context.Context, r *store.WorkflowRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = $1, steps_result_json = $2, completed_at = $3, error = $4
		 WHERE id = $5`,
		r.Status, r.StepsResultJSON, r.CompletedAt, r.Error, r.ID)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *WorkflowStore) GetRun(ctx context.Context, id string) (*store.WorkflowRun, error) {
	return scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runCols+` FROM workflow_runs WHERE id = $1`, id).Scan)
}

func (s *WorkflowStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*store.WorkflowRun, error) {
	q := `SELECT ` + runCols + ` FROM workflow_runs WHERE workflow_id = $1 ORDER BY started_at DESC, id DESC`
	args := []any{workflowID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var out []*store.WorkflowRun
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScheduleStore implements store.ScheduleStore.
type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore { return &ScheduleStore{db: db} }

const scheduleCols = `id, owner_id, workflow_id, cron_expression, timezone, is_active, last_run_at, next_run_at`

func scanSchedule(scan func(dest ...any) error) (*store.Schedule, error) {
	var sc store.Schedule
	var lastRun, nextRun sql.NullTime
	err := scan(&sc.ID, &sc.OwnerID, &sc.WorkflowID, &sc.CronExpression, &sc.Timezone, &sc.IsActive, &lastRun, &nextRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select schedule: %w", err)
	}
	sc.LastRunAt = nullTime(lastRun)
	sc.NextRunAt = nullTime(nextRun)
	return &sc, nil
}

func (s *ScheduleStore) Create(ctx context.Context, sc *store.Schedule) error {
	if sc.ID == "" {
		sc.ID = store.NewID()
	}
	if sc.Timezone == "" {
		sc.Timezone = "UTC"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sc.ID, sc.OwnerID, sc.WorkflowID, sc.CronExpression, sc.Timezone, sc.IsActive,
		sc.LastRunAt, sc.NextRunAt)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStore) Get(ctx context.Context, id string) (*store.Schedule, error) {
	return scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE id = $1`, id).Scan)
}

func (s *ScheduleStore) ListActive(ctx context.Context) ([]*store.Schedule, error) {
	return s.list(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE is_active ORDER BY id`)
}

func (s *ScheduleStore) ListForUser(ctx context.Context, ownerID string) ([]*store.Schedule, error) {
	return s.list(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE owner_id = $1 ORDER BY id`, ownerID)
}

func (s *ScheduleStore) list(ctx context.Context, q string, args ...any) ([]*store.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*store.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *ScheduleStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("set schedule active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ScheduleStore) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = $1, next_run_at = $2 WHERE id = $3`,
		lastRunAt, nextRunAt, id)
	if err != nil {
		return fmt.Errorf("update schedule run times: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ScheduleStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "schedules", id)
	}
	return nil
}
