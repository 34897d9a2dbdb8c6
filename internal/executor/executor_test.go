//go:build unix

package executor

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/taskd/internal/accounts"
	"github.com/nextlevelbuilder/taskd/internal/store"
)

func currentUserTask(t *testing.T, script string) *store.Task {
	t.Helper()
	return &store.Task{
		ID:         7,
		Name:       "exec-test",
		Account:    accounts.DetectDefaultAccount(""),
		ScriptBody: script,
	}
}

func TestExecuteTask_CapturesStdoutAndStderr(t *testing.T) {
	e := New(0, 0)
	log, ok := e.ExecuteTask(currentUserTask(t, "echo out; echo err >&2"), store.ReasonManual)
	if !ok {
		t.Fatalf("run failed, log: %q", log)
	}
	if !strings.Contains(log, "out") || !strings.Contains(log, "err") {
		t.Errorf("log = %q, want both streams captured", log)
	}
	if strings.Index(log, "out") > strings.Index(log, "err") {
		t.Errorf("log = %q, want stdout before stderr", log)
	}
}

func TestExecuteTask_InjectsEnvironment(t *testing.T) {
	e := New(0, 0)
	script := `echo "$SCHEDULER_TASK_ID/$SCHEDULER_TASK_NAME/$SCHEDULER_TRIGGER"`
	log, ok := e.ExecuteTask(currentUserTask(t, script), store.ReasonSchedule)
	if !ok {
		t.Fatalf("run failed, log: %q", log)
	}
	if log != "7/exec-test/schedule" {
		t.Errorf("log = %q, want injected env values", log)
	}
}

func TestExecuteTask_NonZeroExitFails(t *testing.T) {
	e := New(0, 0)
	log, ok := e.ExecuteTask(currentUserTask(t, "echo nope; exit 3"), store.ReasonManual)
	if ok {
		t.Fatal("expected failure for non-zero exit")
	}
	if !strings.Contains(log, "nope") {
		t.Errorf("log = %q, want captured output on failure", log)
	}
}

func TestExecuteTask_Timeout(t *testing.T) {
	e := New(time.Second, 0)
	log, ok := e.ExecuteTask(currentUserTask(t, "sleep 5"), store.ReasonManual)
	if ok {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(log, "timed out") {
		t.Errorf("log = %q, want timeout message", log)
	}
}

func TestExecuteTask_MissingAccount(t *testing.T) {
	e := New(0, 0)
	task := currentUserTask(t, "true")
	task.Account = "no-such-user-xyzzy"
	log, ok := e.ExecuteTask(task, store.ReasonManual)
	if ok {
		t.Fatal("expected failure for missing account")
	}
	if !strings.Contains(log, "no-such-user-xyzzy") {
		t.Errorf("log = %q, want account name in error", log)
	}
}

func TestEvaluateCondition(t *testing.T) {
	e := New(0, 2*time.Second)
	if !e.EvaluateCondition("exit 0") {
		t.Error("exit 0 should fire")
	}
	if e.EvaluateCondition("exit 1") {
		t.Error("exit 1 should not fire")
	}
	if e.EvaluateCondition("sleep 5") {
		t.Error("timeout should not fire")
	}
}
