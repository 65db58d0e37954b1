// Package local provides the local filesystem adapter: enumeration with a
// symlink policy, collision handling on restore, and best-effort ownership.
//
// INVARIANTS:
// - The symlink policy is evaluated once per enumerated entry
// - PrepareUpload never touches the filesystem (safe under dry-run)
// - Unknown uid/gid values are warned about once per adapter (one run)
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Options configures an Adapter.
type Options struct {
	Symlinks      model.SymlinkPolicy
	Duplicates    model.DuplicatePolicy
	NoPermissions bool
}

// Adapter maps Items to paths below a local root.
// An Adapter holds run-scoped state and is meant to be created per run.
type Adapter struct {
	fs     afero.Fs
	root   string
	opts   Options
	logger *zap.Logger

	// canonical resolves symlinked path components on the OS filesystem
	canonical     func(string) string
	canonicalRoot string

	// ownership lookups, replaceable in tests
	userExists  func(id int64) bool
	groupExists func(id int64) bool

	warned   map[string]bool
	warnings []*model.OwnershipWarning
}

// New creates an adapter for root on fs.
func New(fs afero.Fs, root string, opts Options, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Symlinks == "" {
		opts.Symlinks = model.SymlinkInternal
	}
	if opts.Duplicates == "" {
		opts.Duplicates = model.DuplicateStop
	}
	canonical := filepath.Clean
	if _, ok := fs.(*afero.OsFs); ok {
		canonical = realPath
	}
	return &Adapter{
		fs:            fs,
		root:          filepath.Clean(root),
		opts:          opts,
		logger:        logger,
		canonical:     canonical,
		canonicalRoot: canonical(root),
		userExists:    userExists,
		groupExists:   groupExists,
		warned:        make(map[string]bool),
	}
}

// realPath resolves every symlink in path. Paths that cannot be resolved,
// such as dangling targets, fall back to their lexical form.
func realPath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return resolved
}

// Root returns the local root directory.
func (a *Adapter) Root() string {
	return a.root
}

// Path returns the local path of item.
func (a *Adapter) Path(item *model.Item) string {
	return filepath.Join(a.root, filepath.FromSlash(item.Path()))
}

// Warnings returns the ownership warnings raised so far.
func (a *Adapter) Warnings() []*model.OwnershipWarning {
	return a.warnings
}

func (a *Adapter) lstat(path string) (os.FileInfo, error) {
	if l, ok := a.fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(path)
		return fi, err
	}
	return a.fs.Stat(path)
}

func (a *Adapter) exists(path string) bool {
	_, err := a.lstat(path)
	return err == nil
}

// ReadFolder enumerates the immediate children of parent, sorted by name.
func (a *Adapter) ReadFolder(ctx context.Context, parent *model.Item) ([]*model.Item, error) {
	dir := a.Path(parent)
	f, err := a.fs.Open(dir)
	if err != nil {
		return nil, &model.FilesystemError{Op: "open folder", Path: dir, Err: err}
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, &model.FilesystemError{Op: "read folder", Path: dir, Err: err}
	}
	sort.Strings(names)

	items := make([]*model.Item, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, name)

		fi, err := a.lstat(path)
		if err != nil {
			return nil, &model.FilesystemError{Op: "stat", Path: path, Err: err}
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			fi = a.applySymlinkPolicy(dir, path, fi)
		}

		typ := itemType(fi.Mode())
		if typ == model.ItemTypeUnknown {
			a.logger.Warn("skipping unsupported file type", zap.String("path", path), zap.String("mode", fi.Mode().String()))
			continue
		}
		items = append(items, newItem(name, typ, fi))
	}
	return items, nil
}

// applySymlinkPolicy returns the FileInfo that classifies a symlink: the link
// itself, or its target when the policy resolves it. Dangling links stay links.
func (a *Adapter) applySymlinkPolicy(dir, path string, link os.FileInfo) os.FileInfo {
	switch a.opts.Symlinks {
	case model.SymlinkAll:
		return link
	case model.SymlinkInternal:
		if target, ok := a.readlink(path); ok {
			if !filepath.IsAbs(target) {
				target = filepath.Join(dir, target)
			}
			if a.isInternal(a.canonical(target)) {
				return link
			}
		}
	}
	fi, err := a.fs.Stat(path)
	if err != nil {
		return link
	}
	return fi
}

func (a *Adapter) isInternal(target string) bool {
	root := a.canonicalRoot
	return target == root || strings.HasPrefix(target, root+string(filepath.Separator))
}

func (a *Adapter) readlink(path string) (string, bool) {
	r, ok := a.fs.(afero.LinkReader)
	if !ok {
		return "", false
	}
	target, err := r.ReadlinkIfPossible(path)
	if err != nil {
		return "", false
	}
	return target, true
}

func itemType(mode os.FileMode) model.ItemType {
	switch {
	case mode.IsDir():
		return model.ItemTypeFolder
	case mode.IsRegular():
		return model.ItemTypeFile
	case mode&os.ModeSymlink != 0:
		return model.ItemTypeLink
	}
	return model.ItemTypeUnknown
}

func newItem(name string, typ model.ItemType, fi os.FileInfo) *model.Item {
	item := &model.Item{
		Name:        name,
		Type:        typ,
		Size:        fi.Size(),
		ModifyTime:  fi.ModTime().Unix(),
		CreateTime:  fi.ModTime().Unix(),
		GID:         -1,
		UID:         -1,
		Permissions: modeToPermissions(fi.Mode()),
	}
	if ctime, uid, gid, ok := statOwnership(fi); ok {
		item.CreateTime = ctime
		item.UID = uid
		item.GID = gid
	}
	return item
}

// ReadContent returns the bytes to upload for item: file data, the target of
// a link, nothing for folders.
func (a *Adapter) ReadContent(ctx context.Context, item *model.Item) ([]byte, error) {
	path := a.Path(item)
	switch item.Type {
	case model.ItemTypeFolder:
		return nil, nil
	case model.ItemTypeLink:
		target, ok := a.readlink(path)
		if !ok {
			return nil, &model.FilesystemError{Op: "read link", Path: path, Err: fmt.Errorf("symlinks not supported")}
		}
		return []byte(target), nil
	default:
		data, err := afero.ReadFile(a.fs, path)
		if err != nil {
			return nil, &model.FilesystemError{Op: "read file", Path: path, Err: err}
		}
		return data, nil
	}
}

// PrepareUpload resolves a collision of item with an existing local path under
// the duplicate policy. Rename gives item the lowest unused "+N" suffix; the
// parent's children are not re-keyed, callers restore the name when done.
func (a *Adapter) PrepareUpload(ctx context.Context, item *model.Item) error {
	path := a.Path(item)
	if !a.exists(path) {
		return nil
	}

	switch a.opts.Duplicates {
	case model.DuplicateRename:
		i := 0
		for a.exists(path + "+" + strconv.Itoa(i)) {
			i++
		}
		name := item.Name + "+" + strconv.Itoa(i)
		a.logger.Debug("renaming restored item", zap.String("path", item.Path()), zap.String("name", name))
		item.Name = name
	case model.DuplicateUpdate:
	default:
		return &model.FilesystemError{
			Op:   "restore",
			Path: path,
			Err:  fmt.Errorf("%w, try another --duplicate policy", model.ErrPathExists),
		}
	}
	return nil
}

// Write materializes item with content (file data or link target). Files get
// their times, mode and ownership right away; folders get them from
// SetAttributes once their children are written.
func (a *Adapter) Write(ctx context.Context, item *model.Item, content []byte) error {
	path := a.Path(item)

	if fi, err := a.lstat(path); err == nil {
		if a.opts.Duplicates != model.DuplicateUpdate {
			return &model.FilesystemError{Op: "restore", Path: path, Err: model.ErrPathExists}
		}
		if !(item.IsFolder() && fi.IsDir()) {
			if err := a.fs.Remove(path); err != nil {
				return &model.FilesystemError{Op: "clear", Path: path, Err: err}
			}
		}
	}

	if err := a.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &model.FilesystemError{Op: "create parent of", Path: path, Err: err}
	}

	switch item.Type {
	case model.ItemTypeFolder:
		if err := a.fs.MkdirAll(path, 0o755); err != nil {
			return &model.FilesystemError{Op: "create folder", Path: path, Err: err}
		}
		return nil
	case model.ItemTypeFile:
		if err := afero.WriteFile(a.fs, path, content, 0o600); err != nil {
			return &model.FilesystemError{Op: "write file", Path: path, Err: err}
		}
	case model.ItemTypeLink:
		l, ok := a.fs.(afero.Linker)
		if !ok {
			return &model.FilesystemError{Op: "create link", Path: path, Err: fmt.Errorf("symlinks not supported")}
		}
		if err := l.SymlinkIfPossible(string(content), path); err != nil {
			return &model.FilesystemError{Op: "create link", Path: path, Err: err}
		}
		// times, mode and ownership would follow the link to its target
		return nil
	default:
		return &model.FilesystemError{Op: "restore", Path: path, Err: fmt.Errorf("unsupported type %s", item.Type)}
	}
	return a.SetAttributes(ctx, item)
}

// SetAttributes applies times and, unless permissions are disabled, mode and
// ownership of item to its local path. Links are left alone.
func (a *Adapter) SetAttributes(ctx context.Context, item *model.Item) error {
	if item.Type == model.ItemTypeLink {
		return nil
	}
	path := a.Path(item)

	if item.ModifyTime >= 0 {
		mtime := unixTime(item.ModifyTime)
		if err := a.fs.Chtimes(path, mtime, mtime); err != nil {
			return &model.FilesystemError{Op: "set times of", Path: path, Err: err}
		}
	}

	if a.opts.NoPermissions {
		return nil
	}
	if item.Permissions >= 0 {
		if err := a.fs.Chmod(path, permissionsToMode(item.Permissions)); err != nil {
			return &model.FilesystemError{Op: "set permissions of", Path: path, Err: err}
		}
	}
	return a.applyOwnership(path, item)
}
