// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite Store backend for single-node
// deployments: durable, but serializes writes behind one connection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	conductorerrors "github.com/launchpad/engine/pkg/errors"

	_ "modernc.org/sqlite"

	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/store"
)

var (
	_ store.Store      = (*Backend)(nil)
	_ store.Resettable = (*Backend)(nil)
	_ store.Closer     = (*Backend)(nil)
)

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens (and migrates) a SQLite-backed Store.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY storms.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := b.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			spec TEXT,
			state TEXT NOT NULL,
			created_on TEXT NOT NULL,
			launches TEXT,
			archived_launches TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
		`CREATE TABLE IF NOT EXISTS launches (
			launch_id INTEGER PRIMARY KEY,
			task_id INTEGER NOT NULL,
			fworker TEXT,
			host TEXT,
			ip TEXT,
			launch_dir TEXT,
			time_start TEXT,
			time_end TEXT,
			runtime_secs REAL,
			state TEXT NOT NULL,
			state_history TEXT,
			action TEXT,
			trackers TEXT,
			last_pinged TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_launches_task_id ON launches(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_launches_state ON launches(state)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT,
			nodes TEXT,
			links TEXT,
			metadata TEXT,
			state TEXT NOT NULL,
			fw_states TEXT,
			created_on TEXT NOT NULL,
			updated_on TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_state ON workflows(state)`,
		`CREATE TABLE IF NOT EXISTS workflow_locks (
			workflow_id TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expiry TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS id_counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`INSERT OR IGNORE INTO id_counters (name, value) VALUES ('task_id', 0)`,
		`INSERT OR IGNORE INTO id_counters (name, value) VALUES ('launch_id', 0)`,
	}
	for _, m := range migrations {
		if _, err := b.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (b *Backend) Close() error { return b.db.Close() }

// Reset wipes all collections.
func (b *Backend) Reset(ctx context.Context) error {
	for _, table := range []string{"tasks", "launches", "workflows", "workflow_locks"} {
		if _, err := b.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	if _, err := b.db.ExecContext(ctx, "UPDATE id_counters SET value = 0"); err != nil {
		return fmt.Errorf("failed to reset id counters: %w", err)
	}
	return nil
}

// NextTaskID allocates the next task id via optimistic increment-with-retry:
// read, then conditionally update only if the row is unchanged, matching
// the source system's id-allocation approach (see DESIGN.md).
func (b *Backend) NextTaskID(ctx context.Context) (int, error) {
	return b.nextID(ctx, "task_id")
}

// NextLaunchID allocates the next launch id the same way.
func (b *Backend) NextLaunchID(ctx context.Context) (int, error) {
	return b.nextID(ctx, "launch_id")
}

func (b *Backend) nextID(ctx context.Context, counter string) (int, error) {
	const maxRetries = 10
	for attempt := 0; attempt < maxRetries; attempt++ {
		var current int
		if err := b.db.QueryRowContext(ctx, "SELECT value FROM id_counters WHERE name = ?", counter).Scan(&current); err != nil {
			return 0, fmt.Errorf("failed to read %s counter: %w", counter, err)
		}
		next := current + 1
		res, err := b.db.ExecContext(ctx, "UPDATE id_counters SET value = ? WHERE name = ? AND value = ?", next, counter, current)
		if err != nil {
			return 0, fmt.Errorf("failed to advance %s counter: %w", counter, err)
		}
		if rows, _ := res.RowsAffected(); rows == 1 {
			return next, nil
		}
		// Lost the race against a concurrent allocator; retry.
	}
	return 0, fmt.Errorf("failed to allocate %s after %d attempts", counter, maxRetries)
}

// SaveTask inserts or overwrites a task record.
func (b *Backend) SaveTask(ctx context.Context, t *model.Task) error {
	specJSON, err := json.Marshal(t.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	launchesJSON, _ := json.Marshal(t.Launches)
	archivedJSON, _ := json.Marshal(t.ArchivedLaunches)

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, name, spec, state, created_on, launches, archived_launches)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			name = excluded.name, spec = excluded.spec, state = excluded.state,
			launches = excluded.launches, archived_launches = excluded.archived_launches
	`, t.TaskID, t.Name, string(specJSON), string(t.State), t.CreatedOn.Format(time.RFC3339), string(launchesJSON), string(archivedJSON))
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (b *Backend) GetTask(ctx context.Context, taskID int) (*model.Task, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT task_id, name, spec, state, created_on, launches, archived_launches
		FROM tasks WHERE task_id = ?
	`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, &conductorerrors.NotFoundError{Resource: "task", ID: fmt.Sprint(taskID)}
	}
	return t, err
}

func scanTask(row *sql.Row) (*model.Task, error) {
	var t model.Task
	var specJSON, launchesJSON, archivedJSON, createdOn string
	var stateStr string
	if err := row.Scan(&t.TaskID, &t.Name, &specJSON, &stateStr, &createdOn, &launchesJSON, &archivedJSON); err != nil {
		return nil, err
	}
	t.State = model.State(stateStr)
	if specJSON != "" {
		json.Unmarshal([]byte(specJSON), &t.Spec)
	}
	if launchesJSON != "" {
		json.Unmarshal([]byte(launchesJSON), &t.Launches)
	}
	if archivedJSON != "" {
		json.Unmarshal([]byte(archivedJSON), &t.ArchivedLaunches)
	}
	t.CreatedOn, _ = time.Parse(time.RFC3339, createdOn)
	return &t, nil
}

// GetTasks lists tasks matching filter.
func (b *Backend) GetTasks(ctx context.Context, filter store.TaskFilter) ([]*model.Task, error) {
	query := `SELECT task_id, name, spec, state, created_on, launches, archived_launches FROM tasks WHERE 1=1`
	var args []any

	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, filter.Name)
	}
	if len(filter.States) > 0 {
		query += " AND state IN (" + placeholders(len(filter.States)) + ")"
		for _, s := range filter.States {
			args = append(args, string(s))
		}
	}
	if len(filter.TaskIDs) > 0 {
		query += " AND task_id IN (" + placeholders(len(filter.TaskIDs)) + ")"
		for _, id := range filter.TaskIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY task_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		var t model.Task
		var specJSON, launchesJSON, archivedJSON, createdOn, stateStr string
		if err := rows.Scan(&t.TaskID, &t.Name, &specJSON, &stateStr, &createdOn, &launchesJSON, &archivedJSON); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.State = model.State(stateStr)
		if specJSON != "" {
			json.Unmarshal([]byte(specJSON), &t.Spec)
		}
		if launchesJSON != "" {
			json.Unmarshal([]byte(launchesJSON), &t.Launches)
		}
		if archivedJSON != "" {
			json.Unmarshal([]byte(archivedJSON), &t.ArchivedLaunches)
		}
		t.CreatedOn, _ = time.Parse(time.RFC3339, createdOn)
		out = append(out, &t)
	}

	sortTasksByPriorityThenID(out, filter.SortDesc)
	return out, nil
}

func sortTasksByPriorityThenID(tasks []*model.Task, desc bool) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0; j-- {
			a, b := tasks[j-1], tasks[j]
			if a.Priority() < b.Priority() || (a.Priority() == b.Priority() && a.TaskID > b.TaskID) {
				tasks[j-1], tasks[j] = tasks[j], tasks[j-1]
			} else {
				break
			}
		}
	}
	if desc {
		for i, j := 0, len(tasks)-1; i < j; i, j = i+1, j-1 {
			tasks[i], tasks[j] = tasks[j], tasks[i]
		}
	}
}

// CompareAndSwapTaskState performs the checkout CAS: `UPDATE tasks SET
// state = ? WHERE task_id = ? AND state IN (...)`; zero rows affected
// means another caller won the race.
func (b *Backend) CompareAndSwapTaskState(ctx context.Context, taskID int, from []model.State, to model.State) (bool, error) {
	args := []any{string(to), taskID}
	for _, f := range from {
		args = append(args, string(f))
	}
	query := "UPDATE tasks SET state = ? WHERE task_id = ? AND state IN (" + placeholders(len(from)) + ")"
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to swap task state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// CreateLaunch inserts a new launch.
func (b *Backend) CreateLaunch(ctx context.Context, l *model.Launch) error {
	return b.upsertLaunch(ctx, l, true)
}

// UpdateLaunch overwrites an existing launch.
func (b *Backend) UpdateLaunch(ctx context.Context, l *model.Launch) error {
	return b.upsertLaunch(ctx, l, false)
}

func (b *Backend) upsertLaunch(ctx context.Context, l *model.Launch, create bool) error {
	fworkerJSON, _ := json.Marshal(l.FWorker)
	historyJSON, _ := json.Marshal(l.StateHistory)
	actionJSON, _ := json.Marshal(l.Action)
	trackersJSON, _ := json.Marshal(l.Trackers)

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO launches (launch_id, task_id, fworker, host, ip, launch_dir, time_start, time_end,
			runtime_secs, state, state_history, action, trackers, last_pinged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (launch_id) DO UPDATE SET
			task_id = excluded.task_id, fworker = excluded.fworker, host = excluded.host, ip = excluded.ip,
			launch_dir = excluded.launch_dir, time_start = excluded.time_start, time_end = excluded.time_end,
			runtime_secs = excluded.runtime_secs, state = excluded.state, state_history = excluded.state_history,
			action = excluded.action, trackers = excluded.trackers, last_pinged = excluded.last_pinged
	`, l.LaunchID, l.TaskID, string(fworkerJSON), l.Host, l.IP, l.LaunchDir,
		formatTime(l.TimeStart), formatTime(l.TimeEnd), l.RuntimeSecs, string(l.State),
		string(historyJSON), string(actionJSON), string(trackersJSON), l.LastPinged.Format(time.RFC3339))
	if err != nil {
		if create {
			return fmt.Errorf("failed to create launch: %w", err)
		}
		return fmt.Errorf("failed to update launch: %w", err)
	}
	return nil
}

// GetLaunch fetches a launch by id.
func (b *Backend) GetLaunch(ctx context.Context, launchID int) (*model.Launch, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT launch_id, task_id, fworker, host, ip, launch_dir, time_start, time_end,
			runtime_secs, state, state_history, action, trackers, last_pinged
		FROM launches WHERE launch_id = ?
	`, launchID)
	l, err := scanLaunch(row)
	if err == sql.ErrNoRows {
		return nil, &conductorerrors.NotFoundError{Resource: "launch", ID: fmt.Sprint(launchID)}
	}
	return l, err
}

func scanLaunch(row *sql.Row) (*model.Launch, error) {
	var l model.Launch
	var fworkerJSON, historyJSON, actionJSON, trackersJSON string
	var timeStart, timeEnd sql.NullString
	var lastPinged, stateStr string

	if err := row.Scan(&l.LaunchID, &l.TaskID, &fworkerJSON, &l.Host, &l.IP, &l.LaunchDir,
		&timeStart, &timeEnd, &l.RuntimeSecs, &stateStr, &historyJSON, &actionJSON, &trackersJSON, &lastPinged); err != nil {
		return nil, err
	}
	l.State = model.State(stateStr)
	json.Unmarshal([]byte(fworkerJSON), &l.FWorker)
	json.Unmarshal([]byte(historyJSON), &l.StateHistory)
	json.Unmarshal([]byte(actionJSON), &l.Action)
	json.Unmarshal([]byte(trackersJSON), &l.Trackers)
	if timeStart.Valid {
		t, _ := time.Parse(time.RFC3339, timeStart.String)
		l.TimeStart = &t
	}
	if timeEnd.Valid {
		t, _ := time.Parse(time.RFC3339, timeEnd.String)
		l.TimeEnd = &t
	}
	l.LastPinged, _ = time.Parse(time.RFC3339, lastPinged)
	return &l, nil
}

// ListLaunches lists launches matching filter.
func (b *Backend) ListLaunches(ctx context.Context, filter store.LaunchFilter) ([]*model.Launch, error) {
	query := `SELECT launch_id, task_id, fworker, host, ip, launch_dir, time_start, time_end,
		runtime_secs, state, state_history, action, trackers, last_pinged FROM launches WHERE 1=1`
	var args []any

	if filter.TaskID != 0 {
		query += " AND task_id = ?"
		args = append(args, filter.TaskID)
	}
	if len(filter.States) > 0 {
		query += " AND state IN (" + placeholders(len(filter.States)) + ")"
		for _, s := range filter.States {
			args = append(args, string(s))
		}
	}
	if !filter.PingedBefore.IsZero() {
		query += " AND last_pinged < ?"
		args = append(args, filter.PingedBefore.Format(time.RFC3339))
	}
	if !filter.OlderThan.IsZero() {
		query += " AND time_start < ?"
		args = append(args, filter.OlderThan.Format(time.RFC3339))
	}
	query += " ORDER BY launch_id ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	defer rows.Close()

	var out []*model.Launch
	for rows.Next() {
		var l model.Launch
		var fworkerJSON, historyJSON, actionJSON, trackersJSON string
		var timeStart, timeEnd sql.NullString
		var lastPinged, stateStr string
		if err := rows.Scan(&l.LaunchID, &l.TaskID, &fworkerJSON, &l.Host, &l.IP, &l.LaunchDir,
			&timeStart, &timeEnd, &l.RuntimeSecs, &stateStr, &historyJSON, &actionJSON, &trackersJSON, &lastPinged); err != nil {
			return nil, fmt.Errorf("failed to scan launch: %w", err)
		}
		l.State = model.State(stateStr)
		json.Unmarshal([]byte(fworkerJSON), &l.FWorker)
		json.Unmarshal([]byte(historyJSON), &l.StateHistory)
		json.Unmarshal([]byte(actionJSON), &l.Action)
		json.Unmarshal([]byte(trackersJSON), &l.Trackers)
		if timeStart.Valid {
			t, _ := time.Parse(time.RFC3339, timeStart.String)
			l.TimeStart = &t
		}
		if timeEnd.Valid {
			t, _ := time.Parse(time.RFC3339, timeEnd.String)
			l.TimeEnd = &t
		}
		l.LastPinged, _ = time.Parse(time.RFC3339, lastPinged)
		if filter.WorkerName != "" && l.FWorker.Name != filter.WorkerName {
			continue
		}
		out = append(out, &l)
	}
	return out, nil
}

// CreateWorkflow inserts a new workflow.
func (b *Backend) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	return b.upsertWorkflow(ctx, wf)
}

// UpdateWorkflow overwrites an existing workflow.
func (b *Backend) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	return b.upsertWorkflow(ctx, wf)
}

func (b *Backend) upsertWorkflow(ctx context.Context, wf *model.Workflow) error {
	nodesJSON, _ := json.Marshal(wf.Nodes)
	linksJSON, _ := json.Marshal(wf.Links)
	metaJSON, _ := json.Marshal(wf.Metadata)
	statesJSON, _ := json.Marshal(wf.FWStates)

	now := time.Now()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, nodes, links, metadata, state, fw_states, created_on, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, nodes = excluded.nodes, links = excluded.links, metadata = excluded.metadata,
			state = excluded.state, fw_states = excluded.fw_states, updated_on = excluded.updated_on
	`, wf.ID, wf.Name, string(nodesJSON), string(linksJSON), string(metaJSON), string(wf.State),
		string(statesJSON), wf.CreatedOn.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	wf.UpdatedOn = now
	return nil
}

// GetWorkflow fetches a workflow by id.
func (b *Backend) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, name, nodes, links, metadata, state, fw_states, created_on, updated_on
		FROM workflows WHERE id = ?
	`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, &conductorerrors.NotFoundError{Resource: "workflow", ID: id}
	}
	return wf, err
}

// GetWorkflowByTaskID finds the workflow containing taskID by scanning
// fw_states; acceptable for the sizes this backend targets (single-node).
func (b *Backend) GetWorkflowByTaskID(ctx context.Context, taskID int) (*model.Workflow, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, name, nodes, links, metadata, state, fw_states, created_on, updated_on FROM workflows`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflows: %w", err)
	}
	defer rows.Close()

	key := fmt.Sprintf("%d", taskID)
	for rows.Next() {
		wf, err := scanWorkflowRows(rows)
		if err != nil {
			return nil, err
		}
		for id := range wf.FWStates {
			if fmt.Sprint(id) == key {
				return wf, nil
			}
		}
	}
	return nil, &conductorerrors.NotFoundError{Resource: "workflow containing task", ID: key}
}

func scanWorkflow(row *sql.Row) (*model.Workflow, error) {
	var wf model.Workflow
	var nodesJSON, linksJSON, metaJSON, statesJSON, createdOn, updatedOn, stateStr string
	if err := row.Scan(&wf.ID, &wf.Name, &nodesJSON, &linksJSON, &metaJSON, &stateStr, &statesJSON, &createdOn, &updatedOn); err != nil {
		return nil, err
	}
	return finishWorkflowScan(&wf, nodesJSON, linksJSON, metaJSON, statesJSON, stateStr, createdOn, updatedOn), nil
}

func scanWorkflowRows(rows *sql.Rows) (*model.Workflow, error) {
	var wf model.Workflow
	var nodesJSON, linksJSON, metaJSON, statesJSON, createdOn, updatedOn, stateStr string
	if err := rows.Scan(&wf.ID, &wf.Name, &nodesJSON, &linksJSON, &metaJSON, &stateStr, &statesJSON, &createdOn, &updatedOn); err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}
	return finishWorkflowScan(&wf, nodesJSON, linksJSON, metaJSON, statesJSON, stateStr, createdOn, updatedOn), nil
}

func finishWorkflowScan(wf *model.Workflow, nodesJSON, linksJSON, metaJSON, statesJSON, stateStr, createdOn, updatedOn string) *model.Workflow {
	wf.State = model.State(stateStr)
	json.Unmarshal([]byte(nodesJSON), &wf.Nodes)
	json.Unmarshal([]byte(linksJSON), &wf.Links)
	json.Unmarshal([]byte(metaJSON), &wf.Metadata)
	json.Unmarshal([]byte(statesJSON), &wf.FWStates)
	wf.CreatedOn, _ = time.Parse(time.RFC3339, createdOn)
	wf.UpdatedOn, _ = time.Parse(time.RFC3339, updatedOn)
	wf.DeriveParentLinks()
	return wf
}

// ListWorkflows lists workflows, optionally filtered by aggregate state.
func (b *Backend) ListWorkflows(ctx context.Context, states []model.State) ([]*model.Workflow, error) {
	query := `SELECT id, name, nodes, links, metadata, state, fw_states, created_on, updated_on FROM workflows WHERE 1=1`
	var args []any
	if len(states) > 0 {
		query += " AND state IN (" + placeholders(len(states)) + ")"
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	query += " ORDER BY id ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		wf, err := scanWorkflowRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

// DeleteWorkflow removes a workflow record.
func (b *Backend) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// AcquireLock claims workflowID for holder if unclaimed or expired.
func (b *Backend) AcquireLock(ctx context.Context, workflowID, holder string, ttl time.Duration) (bool, string, error) {
	now := time.Now()
	var existingHolder, existingExpiry string
	err := b.db.QueryRowContext(ctx, "SELECT holder, expiry FROM workflow_locks WHERE workflow_id = ?", workflowID).Scan(&existingHolder, &existingExpiry)
	if err != nil && err != sql.ErrNoRows {
		return false, "", fmt.Errorf("failed to read lock: %w", err)
	}
	if err == nil {
		expiry, _ := time.Parse(time.RFC3339, existingExpiry)
		if existingHolder != holder && now.Before(expiry) {
			return false, existingHolder, nil
		}
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO workflow_locks (workflow_id, holder, expiry) VALUES (?, ?, ?)
		ON CONFLICT (workflow_id) DO UPDATE SET holder = excluded.holder, expiry = excluded.expiry
	`, workflowID, holder, now.Add(ttl).Format(time.RFC3339))
	if err != nil {
		return false, "", fmt.Errorf("failed to acquire lock: %w", err)
	}
	return true, "", nil
}

// ReleaseLock releases workflowID's lock if held by holder.
func (b *Backend) ReleaseLock(ctx context.Context, workflowID, holder string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM workflow_locks WHERE workflow_id = ? AND holder = ?", workflowID, holder)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// BreakLock forcibly clears workflowID's lock.
func (b *Backend) BreakLock(ctx context.Context, workflowID string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM workflow_locks WHERE workflow_id = ?", workflowID)
	if err != nil {
		return fmt.Errorf("failed to break lock: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}
