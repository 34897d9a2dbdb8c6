package store

import (
	"errors"
	"strings"

	"github.com/nextlevelbuilder/taskd/internal/accounts"
	"github.com/nextlevelbuilder/taskd/internal/cron"
)

// minConditionInterval is the floor for condition polling, in seconds.
const minConditionInterval = 10

// taskRow is the validated, merged form of a task ready to persist.
type taskRow struct {
	Name                 string
	Account              string
	TriggerType          string
	ScheduleExpression   *string
	ConditionScript      *string
	ConditionInterval    int
	EventType            string
	IsActive             bool
	PreTaskIDs           IDList
	ScriptBody           string
	LastRunAt            *string
	NextRunAt            *string
	LastConditionCheckAt *string
}

// prepareTask merges a payload over an existing task (nil for create),
// validates the result, and computes next_run_at where required.
// forceNextRun recomputes next_run_at from now even if one is set, used when
// the schedule expression changed on update.
func (s *Store) prepareTask(existing *Task, p TaskPayload, forceNextRun bool) (*taskRow, error) {
	row := &taskRow{
		TriggerType:       TriggerSchedule,
		ConditionInterval: 60,
		EventType:         EventTypeScript,
		IsActive:          true,
	}
	var currentID int64
	if existing != nil {
		currentID = existing.ID
		row.Name = existing.Name
		row.Account = existing.Account
		row.TriggerType = existing.TriggerType
		row.ScheduleExpression = existing.ScheduleExpression
		row.ConditionScript = existing.ConditionScript
		row.ConditionInterval = existing.ConditionInterval
		row.EventType = existing.EventType
		row.IsActive = existing.IsActive
		row.PreTaskIDs = existing.PreTaskIDs
		row.ScriptBody = existing.ScriptBody
		row.LastRunAt = existing.LastRunAt
		row.NextRunAt = existing.NextRunAt
		row.LastConditionCheckAt = existing.LastConditionCheckAt
	}

	if p.Name != nil {
		row.Name = strings.TrimSpace(*p.Name)
	}
	if p.Account != nil {
		row.Account = strings.TrimSpace(*p.Account)
	}
	if p.TriggerType != nil {
		row.TriggerType = *p.TriggerType
	}
	if p.ScheduleExpression != nil {
		expr := strings.TrimSpace(*p.ScheduleExpression)
		row.ScheduleExpression = &expr
	}
	if p.ConditionScript != nil {
		script := strings.TrimSpace(*p.ConditionScript)
		row.ConditionScript = &script
	}
	if p.ConditionInterval != nil {
		row.ConditionInterval = *p.ConditionInterval
	}
	if p.EventType != nil {
		row.EventType = strings.TrimSpace(*p.EventType)
	}
	if p.IsActive != nil {
		row.IsActive = *p.IsActive
	}
	if p.PreTaskIDs != nil {
		row.PreTaskIDs = *p.PreTaskIDs
	}
	if p.ScriptBody != nil {
		row.ScriptBody = strings.TrimSpace(*p.ScriptBody)
	}

	if row.TriggerType != TriggerSchedule && row.TriggerType != TriggerEvent {
		return nil, validationf("trigger_type must be %q or %q", TriggerSchedule, TriggerEvent)
	}
	if row.Name == "" {
		return nil, validationf("task name is required")
	}
	if row.Account == "" && !s.policy.PosixSupported() {
		row.Account = s.policy.Default()
	}
	if row.Account == "" {
		return nil, validationf("account is required")
	}
	account, err := s.policy.Ensure(row.Account)
	if err != nil {
		if errors.Is(err, accounts.ErrNotAllowed) {
			return nil, validationf("%s", err.Error())
		}
		return nil, err
	}
	row.Account = account
	if row.ScriptBody == "" {
		return nil, validationf("script body must not be empty")
	}
	if row.ConditionInterval < minConditionInterval {
		row.ConditionInterval = minConditionInterval
	}
	if row.EventType == "" {
		row.EventType = EventTypeScript
	}
	row.PreTaskIDs = normalizeIDs(row.PreTaskIDs, currentID)

	switch row.TriggerType {
	case TriggerSchedule:
		if row.ScheduleExpression == nil || *row.ScheduleExpression == "" {
			return nil, validationf("schedule tasks require a cron expression")
		}
		expr, err := cron.Parse(*row.ScheduleExpression)
		if err != nil {
			return nil, validationf("%s", err.Error())
		}
		if existing == nil || forceNextRun || row.NextRunAt == nil || *row.NextRunAt == "" {
			next, err := expr.NextAfter(s.now())
			if err != nil {
				return nil, validationf("%s", err.Error())
			}
			formatted := FormatTime(next)
			row.NextRunAt = &formatted
		}
		row.ConditionScript = nil
		row.EventType = EventTypeScript
	case TriggerEvent:
		switch row.EventType {
		case EventTypeScript:
			if row.ConditionScript == nil || *row.ConditionScript == "" {
				return nil, validationf("event tasks require a condition script")
			}
		case EventTypeBoot, EventTypeShutdown:
			row.ConditionScript = nil
			row.LastConditionCheckAt = nil
		default:
			return nil, validationf("unsupported event type %q", row.EventType)
		}
		row.ScheduleExpression = nil
		row.NextRunAt = nil
	}
	return row, nil
}

// normalizeIDs de-duplicates in order and drops self references.
func normalizeIDs(ids IDList, selfID int64) IDList {
	cleaned := IDList{}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if selfID != 0 && id == selfID {
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		cleaned = append(cleaned, id)
	}
	return cleaned
}
