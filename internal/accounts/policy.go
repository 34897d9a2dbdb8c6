// Package accounts decides which OS users a task may run as and resolves the
// credentials needed to switch to them.
//
// On POSIX hosts the allowed set is every user whose primary group id is in
// {0, 1000, 1001} plus the supplemental members of those groups. Elsewhere
// the only allowed account is the process's own user.
package accounts

import (
	"errors"
	"fmt"
	"os"
	"os/user"
)

var allowedGIDs = []int{0, 1000, 1001}

var (
	// ErrNotAllowed means the account is outside the allowed-group policy.
	ErrNotAllowed = errors.New("account is not a member of an allowed group")

	// ErrPrivilegeRequired means switching accounts needs uid 0.
	ErrPrivilegeRequired = errors.New("scheduler must run as root to switch task accounts")

	// ErrMissing means the account does not exist on this host.
	ErrMissing = errors.New("account does not exist")
)

// Credentials holds everything the executor needs to run a child process as
// a different user.
type Credentials struct {
	UID    uint32
	GID    uint32
	Groups []uint32 // primary + supplemental, deduplicated and sorted
	Home   string
	Switch bool // false when the target is already the current user
}

// Policy answers which accounts tasks may use.
type Policy interface {
	// List returns the allowed account names, sorted.
	List() []string
	// Ensure validates an account against the policy and returns the
	// (possibly defaulted) account name to persist.
	Ensure(account string) (string, error)
	// PosixSupported reports whether per-account switching is available.
	PosixSupported() bool
	// Default returns the fallback account for empty payloads.
	Default() string
}

// DetectDefaultAccount resolves the account used when a payload omits one,
// honoring the startup override before falling back to the process user.
func DetectDefaultAccount(override string) string {
	for _, v := range []string{override, os.Getenv("USERNAME"), os.Getenv("USER")} {
		if v != "" {
			return v
		}
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "current_user"
}

// NewSystemPolicy builds the host policy. defaultAccount may be empty, in
// which case it is detected from the environment.
func NewSystemPolicy(defaultAccount string) Policy {
	return newSystemPolicy(DetectDefaultAccount(defaultAccount))
}

func notAllowedErr(account string) error {
	return fmt.Errorf("account %q: %w", account, ErrNotAllowed)
}
