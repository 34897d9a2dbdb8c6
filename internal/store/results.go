package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func scanResult(row interface{ Scan(...any) error }) (*TaskResult, error) {
	var r TaskResult
	err := row.Scan(&r.ID, &r.TaskID, &r.Status, &r.TriggerReason, &r.StartedAt, &r.FinishedAt, &r.Log)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const resultColumns = "id, task_id, status, trigger_reason, started_at, finished_at, log"

// RecordResultStart inserts a running result row and returns its id.
func (s *Store) RecordResultStart(taskID int64, triggerReason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		"INSERT INTO task_results (task_id, status, trigger_reason, started_at) VALUES (?, 'running', ?, ?)",
		taskID, triggerReason, FormatTime(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("record result start: %w", err)
	}
	return res.LastInsertId()
}

// FinalizeResult transitions a running result to a terminal status with the
// captured log. Finalizing an already-terminal result is a no-op: the first
// terminal write wins.
func (s *Store) FinalizeResult(resultID int64, status, logText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		"UPDATE task_results SET status=?, finished_at=?, log=? WHERE id=? AND status='running'",
		status, FormatTime(s.now()), logText, resultID,
	)
	if err != nil {
		return fmt.Errorf("finalize result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLatestResult returns the most recent result for a task, or ErrNotFound.
func (s *Store) GetLatestResult(taskID int64) (*TaskResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLatestResultLocked(taskID)
}

func (s *Store) getLatestResultLocked(taskID int64) (*TaskResult, error) {
	r, err := scanResult(s.db.QueryRow(
		"SELECT "+resultColumns+" FROM task_results WHERE task_id=? ORDER BY started_at DESC, id DESC LIMIT 1",
		taskID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// FetchResults returns a page of results for a task, newest first.
func (s *Store) FetchResults(taskID int64, limit, offset int) ([]*TaskResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		"SELECT "+resultColumns+" FROM task_results WHERE task_id=? ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?",
		taskID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []*TaskResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// FetchResult returns a single result scoped to a task.
func (s *Store) FetchResult(taskID, resultID int64) (*TaskResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := scanResult(s.db.QueryRow(
		"SELECT "+resultColumns+" FROM task_results WHERE task_id=? AND id=?",
		taskID, resultID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// DeleteResults removes one result (resultID > 0) or all results for a task.
// Returns the number of deleted rows.
func (s *Store) DeleteResults(taskID, resultID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		res sql.Result
		err error
	)
	if resultID > 0 {
		res, err = s.db.Exec("DELETE FROM task_results WHERE task_id=? AND id=?", taskID, resultID)
	} else {
		res, err = s.db.Exec("DELETE FROM task_results WHERE task_id=?", taskID)
	}
	if err != nil {
		return 0, fmt.Errorf("delete results: %w", err)
	}
	return res.RowsAffected()
}

// HasRunningInstance reports whether any result row for the task is running.
func (s *Store) HasRunningInstance(taskID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM task_results WHERE task_id=? AND status='running'", taskID,
	).Scan(&count)
	return count > 0, err
}

// AttachLatestResults decorates tasks with their most recent result.
func (s *Store) AttachLatestResults(tasks []*Task) ([]*TaskWithResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TaskWithResult, 0, len(tasks))
	for _, t := range tasks {
		latest, err := s.getLatestResultLocked(t.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		out = append(out, &TaskWithResult{Task: *t, LatestResult: latest})
	}
	return out, nil
}
