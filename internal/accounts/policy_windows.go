//go:build !unix

package accounts

import "fmt"

type systemPolicy struct {
	defaultAccount string
}

func newSystemPolicy(defaultAccount string) Policy {
	return &systemPolicy{defaultAccount: defaultAccount}
}

func (p *systemPolicy) PosixSupported() bool { return false }
func (p *systemPolicy) Default() string      { return p.defaultAccount }

func (p *systemPolicy) List() []string {
	if p.defaultAccount == "" {
		return nil
	}
	return []string{p.defaultAccount}
}

func (p *systemPolicy) Ensure(account string) (string, error) {
	if p.defaultAccount == "" {
		return "", fmt.Errorf("cannot determine the default account: %w", ErrNotAllowed)
	}
	if account != "" && account != p.defaultAccount {
		return "", fmt.Errorf("only account %q is supported on this platform: %w", p.defaultAccount, ErrNotAllowed)
	}
	return p.defaultAccount, nil
}

// Resolve never switches accounts on non-POSIX hosts; tasks run as the
// process user with the inherited environment.
func Resolve(account string) (*Credentials, error) {
	return &Credentials{}, nil
}
