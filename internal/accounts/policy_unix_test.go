//go:build unix

package accounts

import (
	"strings"
	"testing"
)

const samplePasswd = `root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
alice:x:1000:1000::/home/alice:/bin/bash
bob:x:1001:1001::/home/bob:/bin/bash
svc:x:999:999::/var/svc:/usr/sbin/nologin
`

const sampleGroup = `root:x:0:
daemon:x:1:
users:x:1000:carol, dave
staff:x:1001:erin
svc:x:999:mallory
`

func TestParsePasswd(t *testing.T) {
	entries := parsePasswd(strings.NewReader(samplePasswd))
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	if entries[0].name != "root" || entries[0].gid != 0 {
		t.Errorf("first entry = %+v, want root/0", entries[0])
	}
	if entries[2].name != "alice" || entries[2].gid != 1000 {
		t.Errorf("third entry = %+v, want alice/1000", entries[2])
	}
}

func TestParseGroups_TrimsMembers(t *testing.T) {
	groups := parseGroups(strings.NewReader(sampleGroup))
	var users *groupEntry
	for i := range groups {
		if groups[i].gid == 1000 {
			users = &groups[i]
		}
	}
	if users == nil {
		t.Fatal("group 1000 not parsed")
	}
	if len(users.members) != 2 || users.members[0] != "carol" || users.members[1] != "dave" {
		t.Errorf("members = %v, want [carol dave]", users.members)
	}
}

func TestGidAllowed(t *testing.T) {
	for _, gid := range []int{0, 1000, 1001} {
		if !gidAllowed(gid) {
			t.Errorf("gid %d should be allowed", gid)
		}
	}
	for _, gid := range []int{1, 999, 1002} {
		if gidAllowed(gid) {
			t.Errorf("gid %d should not be allowed", gid)
		}
	}
}

func TestDetectDefaultAccount_Override(t *testing.T) {
	if got := DetectDefaultAccount("deploy"); got != "deploy" {
		t.Errorf("override ignored, got %q", got)
	}
}
