package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Trigger types.
const (
	TriggerSchedule = "schedule"
	TriggerEvent    = "event"
)

// Event types for event-triggered tasks.
const (
	EventTypeScript   = "script"
	EventTypeBoot     = "system_boot"
	EventTypeShutdown = "system_shutdown"
)

// Result statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Trigger reasons recorded with every result.
const (
	ReasonSchedule  = "schedule"
	ReasonCondition = "condition"
	ReasonManual    = "manual"
	ReasonBoot      = "system_boot"
	ReasonShutdown  = "system_shutdown"
)

// ErrNotFound is returned when a task, template, or result id does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError is a caller-visible payload problem (HTTP 400).
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Task is a durable unit of work. Timestamps are RFC3339 UTC strings.
type Task struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	Account              string  `json:"account"`
	TriggerType          string  `json:"trigger_type"`
	ScheduleExpression   *string `json:"schedule_expression"`
	ConditionScript      *string `json:"condition_script"`
	ConditionInterval    int     `json:"condition_interval"`
	EventType            string  `json:"event_type"`
	IsActive             bool    `json:"is_active"`
	PreTaskIDs           IDList  `json:"pre_task_ids"`
	ScriptBody           string  `json:"script_body"`
	LastRunAt            *string `json:"last_run_at"`
	NextRunAt            *string `json:"next_run_at"`
	LastConditionCheckAt *string `json:"last_condition_check_at"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// TaskWithResult embeds the latest result for list/get responses.
type TaskWithResult struct {
	Task
	LatestResult *TaskResult `json:"latest_result"`
}

// TaskResult is one execution record.
type TaskResult struct {
	ID            int64   `json:"id"`
	TaskID        int64   `json:"task_id"`
	Status        string  `json:"status"`
	TriggerReason string  `json:"trigger_reason"`
	StartedAt     string  `json:"started_at"`
	FinishedAt    *string `json:"finished_at"`
	Log           *string `json:"log"`
}

// Template is a reusable script body snippet keyed by a unique short id.
type Template struct {
	ID         int64  `json:"id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	ScriptBody string `json:"script_body"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// TemplateEntry is the export/import wire form, keyed externally.
type TemplateEntry struct {
	Name       string `json:"name"`
	ScriptBody string `json:"script_body"`
}

// IDList is an ordered list of task ids. It unmarshals from either a JSON
// array of integers or a JSON string containing one, matching the API
// contract for pre_task_ids.
type IDList []int64

func (l *IDList) UnmarshalJSON(b []byte) error {
	var ids []int64
	if err := json.Unmarshal(b, &ids); err == nil {
		*l = ids
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("pre_task_ids must be an array of integers or a JSON string")
	}
	if raw == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return fmt.Errorf("pre_task_ids string does not decode to an integer array")
	}
	*l = ids
	return nil
}

// MarshalJSON renders nil as an empty array rather than null.
func (l IDList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int64(l))
}

// TaskPayload carries create/update fields. Nil pointers mean "absent":
// absent fields on update keep the existing row's values.
type TaskPayload struct {
	Name               *string `json:"name"`
	Account            *string `json:"account"`
	TriggerType        *string `json:"trigger_type"`
	ScheduleExpression *string `json:"schedule_expression"`
	ConditionScript    *string `json:"condition_script"`
	ConditionInterval  *int    `json:"condition_interval"`
	EventType          *string `json:"event_type"`
	IsActive           *bool   `json:"is_active"`
	PreTaskIDs         *IDList `json:"pre_task_ids"`
	ScriptBody         *string `json:"script_body"`
}

// TemplatePayload carries template create/update fields.
type TemplatePayload struct {
	Key        *string `json:"key"`
	Name       *string `json:"name"`
	ScriptBody *string `json:"script_body"`
}
