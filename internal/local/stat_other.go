//go:build !linux

package local

import "os"

// statOwnership is only implemented on Linux; elsewhere ctime falls back to
// the modify time and ownership is left unset.
func statOwnership(fi os.FileInfo) (ctime, uid, gid int64, ok bool) {
	return 0, 0, 0, false
}
