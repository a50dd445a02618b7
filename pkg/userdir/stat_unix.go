//go:build linux || darwin

package userdir

import (
	"os"
	"syscall"
)

type ownership struct {
	UID int
	GID int
}

func statOwnership(info os.FileInfo) (ownership, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ownership{}, false
	}
	return ownership{UID: int(st.Uid), GID: int(st.Gid)}, true
}
