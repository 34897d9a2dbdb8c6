package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/taskd/internal/cron"
)

const taskColumns = `id, name, account, trigger_type, schedule_expression, condition_script,
	condition_interval, event_type, is_active, pre_task_ids, script_body,
	last_run_at, next_run_at, last_condition_check_at, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var active int
	var preIDs string
	err := row.Scan(
		&t.ID, &t.Name, &t.Account, &t.TriggerType, &t.ScheduleExpression, &t.ConditionScript,
		&t.ConditionInterval, &t.EventType, &active, &preIDs, &t.ScriptBody,
		&t.LastRunAt, &t.NextRunAt, &t.LastConditionCheckAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.IsActive = active != 0
	if preIDs == "" {
		preIDs = "[]"
	}
	if err := json.Unmarshal([]byte(preIDs), (*[]int64)(&t.PreTaskIDs)); err != nil {
		return nil, fmt.Errorf("task %d: decode pre_task_ids: %w", t.ID, err)
	}
	if t.EventType == "" {
		t.EventType = EventTypeScript
	}
	return &t, nil
}

func (s *Store) queryTasks(query string, args ...any) ([]*Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListTasks returns all tasks ordered by id.
func (s *Store) ListTasks() ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryTasks("SELECT " + taskColumns + " FROM tasks ORDER BY id ASC")
}

// GetTask returns the task with the given id, or ErrNotFound.
func (s *Store) GetTask(id int64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTaskLocked(id)
}

func (s *Store) getTaskLocked(id int64) (*Task, error) {
	t, err := scanTask(s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id=?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListDueTasks returns active schedule tasks whose next_run_at is at or
// before moment, ordered oldest first then by id.
func (s *Store) ListDueTasks(moment time.Time) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryTasks(
		"SELECT "+taskColumns+` FROM tasks
		WHERE trigger_type='schedule' AND is_active=1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC`,
		FormatTime(moment),
	)
}

// ListEventTasks returns active event tasks, optionally filtered by event type.
func (s *Store) ListEventTasks(eventType string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query := "SELECT " + taskColumns + " FROM tasks WHERE trigger_type='event' AND is_active=1"
	var args []any
	if eventType != "" {
		query += " AND event_type=?"
		args = append(args, eventType)
	}
	query += " ORDER BY id ASC"
	return s.queryTasks(query, args...)
}

// CreateTask validates the payload, inserts the task, and returns the row.
// next_run_at is computed for schedule tasks.
func (s *Store) CreateTask(p TaskPayload) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.prepareTask(nil, p, false)
	if err != nil {
		return nil, err
	}
	now := FormatTime(s.now())
	preIDs, _ := json.Marshal(row.PreTaskIDs)
	res, err := s.db.Exec(
		`INSERT INTO tasks (
			name, account, trigger_type, schedule_expression, condition_script,
			condition_interval, event_type, is_active, pre_task_ids, script_body,
			last_run_at, next_run_at, last_condition_check_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Name, row.Account, row.TriggerType, row.ScheduleExpression, row.ConditionScript,
		row.ConditionInterval, row.EventType, boolToInt(row.IsActive), string(preIDs), row.ScriptBody,
		row.LastRunAt, row.NextRunAt, row.LastConditionCheckAt, now, now,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, validationf("a task named %q already exists", row.Name)
		}
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.getTaskLocked(id)
}

// UpdateTask merges the payload over the existing row, re-validates, and
// writes it back. Changing the schedule expression of a schedule task forces
// next_run_at to be recomputed from now.
func (s *Store) UpdateTask(id int64, p TaskPayload) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getTaskLocked(id)
	if err != nil {
		return nil, err
	}

	forceNextRun := false
	if existing.TriggerType == TriggerSchedule && p.ScheduleExpression != nil {
		newExpr := strings.TrimSpace(*p.ScheduleExpression)
		oldExpr := ""
		if existing.ScheduleExpression != nil {
			oldExpr = *existing.ScheduleExpression
		}
		forceNextRun = newExpr != "" && newExpr != oldExpr
	}

	row, err := s.prepareTask(existing, p, forceNextRun)
	if err != nil {
		return nil, err
	}
	preIDs, _ := json.Marshal(row.PreTaskIDs)
	_, err = s.db.Exec(
		`UPDATE tasks SET
			name=?, account=?, trigger_type=?, schedule_expression=?, condition_script=?,
			condition_interval=?, event_type=?, is_active=?, pre_task_ids=?, script_body=?,
			last_run_at=?, next_run_at=?, last_condition_check_at=?, updated_at=?
		WHERE id=?`,
		row.Name, row.Account, row.TriggerType, row.ScheduleExpression, row.ConditionScript,
		row.ConditionInterval, row.EventType, boolToInt(row.IsActive), string(preIDs), row.ScriptBody,
		row.LastRunAt, row.NextRunAt, row.LastConditionCheckAt, FormatTime(s.now()),
		id,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, validationf("a task named %q already exists", row.Name)
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.getTaskLocked(id)
}

// DeleteTask removes a task; results cascade.
func (s *Store) DeleteTask(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastRun stamps last_run_at with the current moment.
func (s *Store) UpdateLastRun(taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := FormatTime(s.now())
	_, err := s.db.Exec("UPDATE tasks SET last_run_at=?, updated_at=? WHERE id=?", now, now, taskID)
	return err
}

// UpdateConditionCheck stamps last_condition_check_at with the current moment.
func (s *Store) UpdateConditionCheck(taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := FormatTime(s.now())
	_, err := s.db.Exec("UPDATE tasks SET last_condition_check_at=?, updated_at=? WHERE id=?", now, now, taskID)
	return err
}

// ScheduleNextRun computes the next firing instant strictly after base and
// persists it. Returns the persisted timestamp.
func (s *Store) ScheduleNextRun(taskID int64, expression string, base time.Time) (string, error) {
	if expression == "" {
		return "", nil
	}
	expr, err := cron.Parse(expression)
	if err != nil {
		return "", err
	}
	next, err := expr.NextAfter(base)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	formatted := FormatTime(next)
	_, err = s.db.Exec("UPDATE tasks SET next_run_at=?, updated_at=? WHERE id=?",
		formatted, FormatTime(s.now()), taskID)
	if err != nil {
		return "", fmt.Errorf("schedule next run: %w", err)
	}
	return formatted, nil
}

// DeferNextRun overwrites next_run_at with an explicit moment, bypassing the
// cron expression. Used to push back a task blocked on dependencies.
func (s *Store) DeferNextRun(taskID int64, moment time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("UPDATE tasks SET next_run_at=?, updated_at=? WHERE id=?",
		FormatTime(moment), FormatTime(s.now()), taskID)
	if err != nil {
		return fmt.Errorf("defer next run: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
