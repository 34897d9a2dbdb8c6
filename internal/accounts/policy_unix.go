//go:build unix

package accounts

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

const (
	passwdPath = "/etc/passwd"
	groupPath  = "/etc/group"
)

type systemPolicy struct {
	defaultAccount string
}

func newSystemPolicy(defaultAccount string) Policy {
	return &systemPolicy{defaultAccount: defaultAccount}
}

func (p *systemPolicy) PosixSupported() bool { return true }
func (p *systemPolicy) Default() string      { return p.defaultAccount }

func (p *systemPolicy) List() []string {
	names := make(map[string]bool)

	passwd, err := os.Open(passwdPath)
	if err != nil {
		slog.Warn("failed to read passwd database", "error", err)
	} else {
		for _, entry := range parsePasswd(passwd) {
			if gidAllowed(entry.gid) {
				names[entry.name] = true
			}
		}
		passwd.Close()
	}

	group, err := os.Open(groupPath)
	if err != nil {
		slog.Warn("failed to read group database", "error", err)
	} else {
		for _, g := range parseGroups(group) {
			if !gidAllowed(g.gid) {
				continue
			}
			for _, member := range g.members {
				if member != "" {
					names[member] = true
				}
			}
		}
		group.Close()
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (p *systemPolicy) Ensure(account string) (string, error) {
	allowed := p.List()
	if len(allowed) == 0 {
		return "", fmt.Errorf("no accounts belong to groups 0/1000/1001: %w", ErrNotAllowed)
	}
	for _, name := range allowed {
		if name == account {
			return account, nil
		}
	}
	return "", notAllowedErr(account)
}

// Resolve looks up the credentials needed to run a child process as the
// given account. When the account is already the effective user no switch is
// required; otherwise the process must be running as root.
func Resolve(account string) (*Credentials, error) {
	u, err := user.Lookup(account)
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", account, ErrMissing)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("account %q has non-numeric uid %q", account, u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("account %q has non-numeric gid %q", account, u.Gid)
	}

	creds := &Credentials{UID: uint32(uid), GID: uint32(gid), Home: u.HomeDir}
	if uid == syscall.Geteuid() {
		return creds, nil
	}
	if syscall.Geteuid() != 0 {
		return nil, ErrPrivilegeRequired
	}

	groupSet := map[int]bool{gid: true}
	groupDB, err := os.Open(groupPath)
	if err != nil {
		slog.Warn("failed to enumerate supplemental groups", "account", account, "error", err)
	} else {
		for _, g := range parseGroups(groupDB) {
			for _, member := range g.members {
				if member == account {
					groupSet[g.gid] = true
				}
			}
		}
		groupDB.Close()
	}
	gids := make([]int, 0, len(groupSet))
	for g := range groupSet {
		gids = append(gids, g)
	}
	sort.Ints(gids)
	for _, g := range gids {
		creds.Groups = append(creds.Groups, uint32(g))
	}
	creds.Switch = true
	return creds, nil
}

func gidAllowed(gid int) bool {
	for _, allowed := range allowedGIDs {
		if gid == allowed {
			return true
		}
	}
	return false
}

type passwdEntry struct {
	name string
	gid  int
}

// parsePasswd reads name and primary gid from passwd(5) formatted data.
func parsePasswd(r io.Reader) []passwdEntry {
	var out []passwdEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		out = append(out, passwdEntry{name: fields[0], gid: gid})
	}
	return out
}

type groupEntry struct {
	gid     int
	members []string
}

// parseGroups reads gid and member list from group(5) formatted data.
func parseGroups(r io.Reader) []groupEntry {
	var out []groupEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		gid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		var members []string
		for _, m := range strings.Split(fields[3], ",") {
			if m = strings.TrimSpace(m); m != "" {
				members = append(members, m)
			}
		}
		out = append(out, groupEntry{gid: gid, members: members})
	}
	return out
}
