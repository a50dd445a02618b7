// Package userdir is the user directory adapter (component C3): it
// resolves operating-system identity (uid/gid/home) for the user a
// benchmark runs as, either from the host via the host bridge or from a
// canned dev/demo profile.
package userdir

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xbat/xbatctld/pkg/types"
)

// Executor runs a shell command on the managed host.
type Executor interface {
	Execute(command string) (ExecResult, error)
}

// ExecResult is what an Executor returns.
type ExecResult struct {
	ReturnCode int
	Output     string
}

// DemoMode reports whether the daemon should use the canned dev/demo
// profile instead of resolving identities on the host.
type DemoMode func() bool

// demoUser is the fixed identity used in dev/demo mode.
var demoUser = types.User{UserName: "", UIDNumber: 1000, GIDNumber: 1000, HomeDirectory: "/home/xbat"}

// Adapter resolves user identity through the host bridge.
type Adapter struct {
	exec Executor
	demo DemoMode
}

// New creates a user directory adapter.
func New(exec Executor, demo DemoMode) *Adapter {
	return &Adapter{exec: exec, demo: demo}
}

// GetUserInfo resolves uid, gid and home directory for username.
func (a *Adapter) GetUserInfo(username string) (*types.User, error) {
	if a.demo != nil && a.demo() {
		u := demoUser
		u.UserName = username
		return &u, nil
	}

	uidRes, err := a.exec.Execute(fmt.Sprintf("id -u %s", username))
	if err != nil {
		return nil, fmt.Errorf("resolve uid for %s: %w", username, err)
	}
	gidRes, err := a.exec.Execute(fmt.Sprintf("id -g %s", username))
	if err != nil {
		return nil, fmt.Errorf("resolve gid for %s: %w", username, err)
	}
	homeRes, err := a.exec.Execute(fmt.Sprintf("getent passwd %s | cut -d: -f6", username))
	if err != nil {
		return nil, fmt.Errorf("resolve home directory for %s: %w", username, err)
	}

	uidStr := strings.TrimSpace(uidRes.Output)
	gidStr := strings.TrimSpace(gidRes.Output)
	home := strings.TrimSpace(homeRes.Output)

	if uidRes.ReturnCode != 0 || gidRes.ReturnCode != 0 || homeRes.ReturnCode != 0 ||
		!isNumeric(uidStr) || !isNumeric(gidStr) {
		return nil, fmt.Errorf("could not retrieve information for user %q from host (uid=%s, gid=%s, homedir=%s)",
			username, uidStr, gidStr, home)
	}

	uid, _ := strconv.Atoi(uidStr)
	gid, _ := strconv.Atoi(gidStr)

	return &types.User{
		UserName:      username,
		UIDNumber:     uid,
		GIDNumber:     gid,
		HomeDirectory: home,
	}, nil
}

// GetUserNameByUID resolves a username from a uid via getent.
func (a *Adapter) GetUserNameByUID(uid int) (string, error) {
	res, err := a.exec.Execute(fmt.Sprintf("getent passwd %d | cut -d: -f1", uid))
	if err != nil || res.ReturnCode != 0 {
		return "", fmt.Errorf("could not retrieve username for uid %d: %w", uid, err)
	}
	return strings.TrimSpace(res.Output), nil
}

// DirOwnedByUser reports whether path is owned by username/uid/gid,
// resolving the path's owning uid back to a username to guard against uid
// reuse across systems. Demo mode skips the reverse lookup since there is
// no host to ask.
func (a *Adapter) DirOwnedByUser(path, username string, uid, gid int) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	st, ok := statOwnership(info)
	if !ok {
		return false, fmt.Errorf("could not read ownership for %s", path)
	}
	if st.UID != uid || st.GID != gid {
		return false, nil
	}
	if a.demo != nil && a.demo() {
		return true, nil
	}
	ownerName, err := a.GetUserNameByUID(st.UID)
	if err != nil {
		return false, err
	}
	return ownerName == username, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
