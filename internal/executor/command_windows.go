//go:build !unix

package executor

import (
	"context"
	"os/exec"

	"github.com/nextlevelbuilder/taskd/internal/accounts"
)

func buildCommand(ctx context.Context, script string) *exec.Cmd {
	return exec.CommandContext(ctx, "powershell",
		"-NoLogo", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", script)
}

// Account switching is unavailable off POSIX; tasks run as the process user.
func applyCredentials(cmd *exec.Cmd, creds *accounts.Credentials) {}
