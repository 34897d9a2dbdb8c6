//go:build unix

package executor

import (
	"context"
	"os/exec"
	"syscall"

	"github.com/nextlevelbuilder/taskd/internal/accounts"
)

func buildCommand(ctx context.Context, script string) *exec.Cmd {
	return exec.CommandContext(ctx, "/bin/bash", "-c", script)
}

// applyCredentials attaches the target account's credentials to the child.
// The kernel applies groups before dropping to the target uid, preserving
// the required setgid → setgroups → setuid ordering.
func applyCredentials(cmd *exec.Cmd, creds *accounts.Credentials) {
	if !creds.Switch {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:    creds.UID,
			Gid:    creds.GID,
			Groups: creds.Groups,
		},
	}
}
