// Package executor runs task script bodies as child processes: platform
// shell command form, injected environment, output capture, timeout, and
// account switching on POSIX hosts.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/taskd/internal/accounts"
	"github.com/nextlevelbuilder/taskd/internal/store"
)

// Default timeouts, overridable at process startup.
const (
	DefaultTaskTimeout      = 900 * time.Second
	DefaultConditionTimeout = 60 * time.Second
)

// Executor runs scripts for tasks and evaluates condition scripts.
type Executor struct {
	TaskTimeout      time.Duration
	ConditionTimeout time.Duration
}

// New builds an executor with the given timeouts; zero values fall back to
// the defaults.
func New(taskTimeout, conditionTimeout time.Duration) *Executor {
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	if conditionTimeout <= 0 {
		conditionTimeout = DefaultConditionTimeout
	}
	return &Executor{TaskTimeout: taskTimeout, ConditionTimeout: conditionTimeout}
}

// ExecuteTask runs the task's script body under its account. It returns the
// trimmed stdout+stderr log and whether the child exited 0. Host-level
// failures (missing account, insufficient privilege, spawn error) report as
// a failed run with the error message as the log.
func (e *Executor) ExecuteTask(task *store.Task, reason string) (string, bool) {
	creds, err := accounts.Resolve(task.Account)
	if err != nil {
		return err.Error(), false
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.TaskTimeout)
	defer cancel()

	cmd := buildCommand(ctx, task.ScriptBody)
	env := os.Environ()
	if creds.Home != "" {
		env = append(env, "HOME="+creds.Home)
	}
	env = append(env,
		"SCHEDULER_TASK_ID="+strconv.FormatInt(task.ID, 10),
		"SCHEDULER_TASK_NAME="+task.Name,
		"SCHEDULER_TASK_ACCOUNT="+task.Account,
		"SCHEDULER_TRIGGER="+reason,
	)
	cmd.Env = env
	applyCredentials(cmd, creds)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	output := strings.TrimSpace(stdout.String() + stderr.String())
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("task timed out (>%s)", e.TaskTimeout), false
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, false
		}
		// Spawn failure: no output to report.
		return err.Error(), false
	}
	return output, true
}

// EvaluateCondition runs a condition script as the process user and reports
// whether it exited 0 within the condition timeout.
func (e *Executor) EvaluateCondition(script string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), e.ConditionTimeout)
	defer cancel()

	cmd := buildCommand(ctx, script)
	var sink bytes.Buffer
	cmd.Stdout = &sink
	cmd.Stderr = &sink

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		slog.Warn("condition script timed out", "timeout", e.ConditionTimeout)
		return false
	}
	if err != nil {
		return false
	}
	return true
}
