// Package engine drives scheduling: a single background loop ticks once per
// second, fires due schedule tasks, polls condition scripts on a bounded
// worker pool, and emits the boot/shutdown pseudo-events.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/taskd/internal/store"
)

const (
	tickInterval     = time.Second
	loopJoinTimeout  = 5 * time.Second
	conditionWorkers = 4
	// A task blocked on dependencies retries one minute later.
	dependencyRetryDelay = time.Minute
)

var (
	// ErrAlreadyRunning means the task has a running result row (HTTP 409).
	ErrAlreadyRunning = errors.New("task is already running")

	// ErrDependenciesNotMet means a pre-task's latest result is not success
	// (HTTP 400 on the manual path).
	ErrDependenciesNotMet = errors.New("pre-tasks have not succeeded")
)

// Executor runs task scripts and condition scripts. Implemented by
// executor.Executor; stubbed in tests.
type Executor interface {
	ExecuteTask(task *store.Task, reason string) (log string, ok bool)
	EvaluateCondition(script string) bool
}

// Engine owns the scheduling loop.
type Engine struct {
	store *store.Store
	exec  Executor
	now   func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
	condPool *conditionPool
	tracer   trace.Tracer

	mu      sync.Mutex
	running bool
}

// New builds an engine over the store and executor.
func New(st *store.Store, exec Executor) *Engine {
	return &Engine{
		store:    st,
		exec:     exec,
		now:      func() time.Time { return time.Now().UTC() },
		condPool: newConditionPool(conditionWorkers),
		tracer:   otel.Tracer("taskd/engine"),
	}
}

// Start fires the system_boot pseudo-event, waiting for every boot task to
// finish, then launches the background loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})
	e.mu.Unlock()

	e.triggerSystemEvent(store.EventTypeBoot)
	go e.loop()
	slog.Info("engine started")
}

// Stop signals the loop, fires the system_shutdown pseudo-event (waiting for
// completion), and joins the loop with a bounded wait.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	e.triggerSystemEvent(store.EventTypeShutdown)
	e.condPool.stop()

	select {
	case <-e.doneChan:
	case <-time.After(loopJoinTimeout):
		slog.Warn("engine loop did not stop within join timeout")
	}
	slog.Info("engine stopped")
}

func (e *Engine) loop() {
	defer close(e.doneChan)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.tick(e.now())
		}
	}
}

// tick runs one scheduling pass. Errors are logged and swallowed: a bad task
// cannot kill the engine.
func (e *Engine) tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine tick panicked", "panic", r)
		}
	}()
	if err := e.processDueTasks(now); err != nil {
		slog.Error("due task pass failed", "error", err)
	}
	if err := e.processConditionTasks(now); err != nil {
		slog.Error("condition pass failed", "error", err)
	}
}

func (e *Engine) processDueTasks(now time.Time) error {
	due, err := e.store.ListDueTasks(now)
	if err != nil {
		return err
	}
	for _, task := range due {
		running, err := e.store.HasRunningInstance(task.ID)
		if err != nil {
			return err
		}
		if running {
			slog.Info("task still running, skipping slot", "task", task.ID)
			continue
		}
		expr := ""
		if task.ScheduleExpression != nil {
			expr = *task.ScheduleExpression
		}
		if !e.DependenciesMet(task) {
			slog.Info("task waiting for dependencies", "task", task.ID)
			if err := e.store.DeferNextRun(task.ID, now.Add(dependencyRetryDelay)); err != nil {
				slog.Warn("failed to delay blocked task", "task", task.ID, "error", err)
			}
			continue
		}
		e.Spawn(task, store.ReasonSchedule)
		// Advance only after the spawn: a crash in between re-fires the
		// slot on restart rather than losing it.
		if _, err := e.store.ScheduleNextRun(task.ID, expr, now); err != nil {
			slog.Warn("failed to advance next run", "task", task.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) processConditionTasks(now time.Time) error {
	tasks, err := e.store.ListEventTasks(store.EventTypeScript)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.LastConditionCheckAt != nil {
			last := store.ParseTime(*task.LastConditionCheckAt)
			if !last.IsZero() && now.Sub(last) < time.Duration(task.ConditionInterval)*time.Second {
				continue
			}
		}
		// Stamp before dispatch so the interval holds even while the
		// script is still queued or running.
		if err := e.store.UpdateConditionCheck(task.ID); err != nil {
			return err
		}
		if task.ConditionScript == nil || *task.ConditionScript == "" {
			continue
		}
		task := task
		if !e.condPool.submit(func() { e.checkCondition(task) }) {
			slog.Warn("condition pool saturated, skipping cycle", "task", task.ID)
		}
	}
	return nil
}

// checkCondition evaluates one condition script and spawns the task when it
// fires. Runs on a pool worker, never on the tick goroutine.
func (e *Engine) checkCondition(task *store.Task) {
	if !e.exec.EvaluateCondition(*task.ConditionScript) {
		return
	}
	running, err := e.store.HasRunningInstance(task.ID)
	if err != nil {
		slog.Warn("running-instance check failed", "task", task.ID, "error", err)
		return
	}
	if running || !e.DependenciesMet(task) {
		return
	}
	e.Spawn(task, store.ReasonCondition)
}

// DependenciesMet reports whether every pre-task's latest result is success.
// A dependency with no results blocks the task.
func (e *Engine) DependenciesMet(task *store.Task) bool {
	for _, depID := range task.PreTaskIDs {
		latest, err := e.store.GetLatestResult(depID)
		if err != nil || latest.Status != store.StatusSuccess {
			return false
		}
	}
	return true
}

// Spawn records a running result and launches the execution on its own
// goroutine. The returned channel closes when the run is finalized. Guard
// checks (HasRunningInstance, DependenciesMet) are the caller's business.
func (e *Engine) Spawn(task *store.Task, reason string) <-chan struct{} {
	done := make(chan struct{})
	resultID, err := e.store.RecordResultStart(task.ID, reason)
	if err != nil {
		slog.Error("failed to record result start", "task", task.ID, "error", err)
		close(done)
		return done
	}
	slog.Info("executing task", "task", task.ID, "name", task.Name, "reason", reason)
	go func() {
		defer close(done)
		_, span := e.tracer.Start(context.Background(), "task.execute",
			trace.WithAttributes(
				attribute.Int64("task.id", task.ID),
				attribute.String("task.name", task.Name),
				attribute.String("task.trigger", reason),
			))
		defer span.End()

		logText, ok := e.exec.ExecuteTask(task, reason)
		status := store.StatusSuccess
		if !ok {
			status = store.StatusFailed
		}
		span.SetAttributes(attribute.String("task.status", status))
		if err := e.store.FinalizeResult(resultID, status, logText); err != nil {
			slog.Error("failed to finalize result", "result", resultID, "error", err)
		}
		if err := e.store.UpdateLastRun(task.ID); err != nil {
			slog.Warn("failed to stamp last run", "task", task.ID, "error", err)
		}
	}()
	return done
}

// RunNow triggers a task outside its schedule, applying the same guards as
// the loop. Returns ErrAlreadyRunning or ErrDependenciesNotMet when blocked.
func (e *Engine) RunNow(task *store.Task) error {
	running, err := e.store.HasRunningInstance(task.ID)
	if err != nil {
		return err
	}
	if running {
		return ErrAlreadyRunning
	}
	if !e.DependenciesMet(task) {
		return ErrDependenciesNotMet
	}
	e.Spawn(task, store.ReasonManual)
	return nil
}

// triggerSystemEvent spawns every eligible boot/shutdown task and waits for
// all of them to finish.
func (e *Engine) triggerSystemEvent(eventType string) {
	if eventType != store.EventTypeBoot && eventType != store.EventTypeShutdown {
		return
	}
	reason := store.ReasonBoot
	if eventType == store.EventTypeShutdown {
		reason = store.ReasonShutdown
	}
	tasks, err := e.store.ListEventTasks(eventType)
	if err != nil {
		slog.Error("failed to list system event tasks", "event", eventType, "error", err)
		return
	}
	var waits []<-chan struct{}
	for _, task := range tasks {
		running, err := e.store.HasRunningInstance(task.ID)
		if err != nil || running {
			continue
		}
		if !e.DependenciesMet(task) {
			continue
		}
		waits = append(waits, e.Spawn(task, reason))
	}
	for _, done := range waits {
		<-done
	}
}
