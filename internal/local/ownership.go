package local

import (
	"os"
	"os/user"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/model"
)

func userExists(id int64) bool {
	_, err := user.LookupId(strconv.FormatInt(id, 10))
	return err == nil
}

func groupExists(id int64) bool {
	_, err := user.LookupGroupId(strconv.FormatInt(id, 10))
	return err == nil
}

// applyOwnership chowns path to the item's uid/gid. Ids that do not resolve on
// this system are dropped with a one-time warning; a chown failure for ids
// that do resolve is fatal.
func (a *Adapter) applyOwnership(path string, item *model.Item) error {
	uid, gid := int(item.UID), int(item.GID)

	if item.UID >= 0 && !a.userExists(item.UID) {
		a.warn("user", item.UID, item.Path())
		uid = -1
	}
	if item.GID >= 0 && !a.groupExists(item.GID) {
		a.warn("group", item.GID, item.Path())
		gid = -1
	}
	if uid < 0 && gid < 0 {
		return nil
	}

	if err := a.fs.Chown(path, uid, gid); err != nil {
		return &model.FilesystemError{Op: "set owner of", Path: path, Err: err}
	}
	return nil
}

func (a *Adapter) warn(kind string, id int64, path string) {
	key := kind + ":" + strconv.FormatInt(id, 10)
	if a.warned[key] {
		return
	}
	a.warned[key] = true

	w := &model.OwnershipWarning{Kind: kind, ID: id, Path: path}
	a.warnings = append(a.warnings, w)
	a.logger.Warn("ownership not restored", zap.Error(w))
}

const (
	permSetuid = 0o4000
	permSetgid = 0o2000
	permSticky = 0o1000
)

func modeToPermissions(mode os.FileMode) int64 {
	perms := int64(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		perms |= permSetuid
	}
	if mode&os.ModeSetgid != 0 {
		perms |= permSetgid
	}
	if mode&os.ModeSticky != 0 {
		perms |= permSticky
	}
	return perms
}

func permissionsToMode(perms int64) os.FileMode {
	mode := os.FileMode(perms) & os.ModePerm
	if perms&permSetuid != 0 {
		mode |= os.ModeSetuid
	}
	if perms&permSetgid != 0 {
		mode |= os.ModeSetgid
	}
	if perms&permSticky != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}
