package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/taskd/internal/engine"
	"github.com/nextlevelbuilder/taskd/internal/store"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		s.writeError(w, err)
		return
	}
	decorated, err := s.store.AttachLatestResults(tasks)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": decorated})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var payload store.TaskPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	task, err := s.store.CreateTask(payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	latest, err := s.store.GetLatestResult(id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store.TaskWithResult{Task: *task, LatestResult: latest})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload store.TaskPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	task, err := s.store.UpdateTask(id, payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteTask(id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.RunNow(task); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"queued": true})
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Absent is_active flips the current state.
	var payload struct {
		IsActive *bool `json:"is_active"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	target := !task.IsActive
	if payload.IsActive != nil {
		target = *payload.IsActive
	}
	updated, err := s.store.UpdateTask(id, store.TaskPayload{IsActive: &target})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	results, err := s.store.FetchResults(id, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": results})
}

func (s *Server) handleDeleteResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteResults(id, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	resultID, ok := pathID(w, r, "resultID")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteResults(id, resultID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

type batchRequest struct {
	Action  string        `json:"action"`
	TaskIDs []json.Number `json:"task_ids"`
}

// handleBatchTasks applies one action to many tasks and reports per-task
// outcomes bucketed by what happened.
func (s *Server) handleBatchTasks(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	switch action {
	case "delete", "enable", "disable", "run":
	default:
		errorJSON(w, http.StatusBadRequest, "unsupported action "+strconv.Quote(req.Action))
		return
	}
	ids, err := parseBatchIDs(req.TaskIDs)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	result := map[string][]int64{"missing": {}}
	add := func(bucket string, id int64) { result[bucket] = append(result[bucket], id) }

	for _, id := range ids {
		task, err := s.store.GetTask(id)
		if errors.Is(err, store.ErrNotFound) {
			add("missing", id)
			continue
		}
		if err != nil {
			s.writeError(w, err)
			return
		}

		switch action {
		case "delete":
			if err := s.store.DeleteTask(id); errors.Is(err, store.ErrNotFound) {
				add("missing", id)
			} else if err != nil {
				s.writeError(w, err)
				return
			} else {
				add("deleted", id)
			}

		case "enable", "disable":
			target := action == "enable"
			if task.IsActive == target {
				add("unchanged", id)
				continue
			}
			if _, err := s.store.UpdateTask(id, store.TaskPayload{IsActive: &target}); err != nil {
				s.writeError(w, err)
				return
			}
			add("updated", id)

		case "run":
			switch err := s.engine.RunNow(task); {
			case errors.Is(err, engine.ErrAlreadyRunning):
				add("running", id)
			case errors.Is(err, engine.ErrDependenciesNotMet):
				add("blocked", id)
			case err != nil:
				s.writeError(w, err)
				return
			default:
				add("queued", id)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": action, "result": result})
}

// parseBatchIDs validates and de-duplicates batch ids, keeping order.
func parseBatchIDs(raw []json.Number) ([]int64, error) {
	if len(raw) == 0 {
		return nil, errors.New("task_ids must not be empty")
	}
	var ids []int64
	seen := make(map[int64]bool, len(raw))
	for _, n := range raw {
		id, err := n.Int64()
		if err != nil {
			return nil, errors.New("task_ids must be integers")
		}
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no valid task_ids provided")
	}
	return ids, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
