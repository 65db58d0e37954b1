//go:build linux

package local

import (
	"os"
	"syscall"
)

func statOwnership(fi os.FileInfo) (ctime, uid, gid int64, ok bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0, false
	}
	return int64(st.Ctim.Sec), int64(st.Uid), int64(st.Gid), true
}
