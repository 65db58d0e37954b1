// Package core provides the synchronization engine for cloudsync: the snapshot
// codec, tree builders, and the backup, restore, clean and list operations.
//
// INVARIANTS:
// - Snapshot rows are written in pre-order; each parent precedes its children
// - A row whose parent has not been read is a FormatError
// - Round trip: ReadSnapshot(WriteSnapshot(T)) has the same rows as T
package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/cloudsync/cloudsync/internal/model"
)

const snapshotFields = 9

func snapshotRecord(item *model.Item) []string {
	return []string{
		item.Path(),
		item.RemoteID,
		strconv.Itoa(int(item.Type)),
		strconv.FormatInt(item.Size, 10),
		strconv.FormatInt(item.ModifyTime, 10),
		strconv.FormatInt(item.CreateTime, 10),
		strconv.FormatInt(item.GID, 10),
		strconv.FormatInt(item.UID, 10),
		strconv.FormatInt(item.Permissions, 10),
	}
}

// WriteSnapshot writes one record per non-root item of root:
// path, remote id, type, size, mtime, ctime, gid, uid, permissions.
func WriteSnapshot(w io.Writer, root *model.Item) error {
	cw := csv.NewWriter(w)
	err := root.Walk(func(item *model.Item) (bool, error) {
		return true, cw.Write(snapshotRecord(item))
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// ReadSnapshot rebuilds a tree from records written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*model.Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = snapshotFields

	root := model.NewRootItem()
	byPath := map[string]*model.Item{"": root}

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &model.FormatError{Line: line, Err: err}
		}

		path := rec[0]
		parentPath, name := "", path
		if idx := strings.LastIndex(path, model.Separator); idx >= 0 {
			parentPath, name = path[:idx], path[idx+1:]
		}
		if name == "" {
			return nil, &model.FormatError{Line: line, Err: fmt.Errorf("empty name in path '%s'", path)}
		}

		parent, ok := byPath[parentPath]
		if !ok {
			return nil, &model.FormatError{Line: line, Err: fmt.Errorf("parent of '%s' not found", path)}
		}
		if !parent.IsFolder() {
			return nil, &model.FormatError{Line: line, Err: fmt.Errorf("parent of '%s' is not a folder", path)}
		}

		item, err := parseRecord(name, rec)
		if err != nil {
			return nil, &model.FormatError{Line: line, Err: err}
		}
		parent.AddChild(item)
		byPath[path] = item
	}

	return root, nil
}

func parseRecord(name string, rec []string) (*model.Item, error) {
	typ, err := model.ParseItemType(rec[2])
	if err != nil {
		return nil, err
	}
	var nums [6]int64
	for i, field := range rec[3:] {
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number in column %d: %w", i+4, err)
		}
		nums[i] = n
	}
	return &model.Item{
		Name:        name,
		RemoteID:    rec[1],
		Type:        typ,
		Size:        nums[0],
		ModifyTime:  nums[1],
		CreateTime:  nums[2],
		GID:         nums[3],
		UID:         nums[4],
		Permissions: nums[5],
	}, nil
}

// SaveSnapshot writes the tree to path atomically.
func SaveSnapshot(fs afero.Fs, path string, root *model.Item) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	if err := WriteSnapshot(f, root); err != nil {
		f.Close()
		fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit cache file: %w", err)
	}
	return nil
}

// LoadSnapshot reads the tree stored at path.
func LoadSnapshot(fs afero.Fs, path string) (*model.Item, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, &model.FormatError{Err: fmt.Errorf("cannot open '%s': %w", path, err)}
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// SnapshotStale reports whether the snapshot at path is missing or older than maxAge.
// A maxAge of zero never expires an existing snapshot.
func SnapshotStale(fs afero.Fs, path string, maxAge time.Duration, now time.Time) (bool, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("failed to stat cache file: %w", err)
	}
	if maxAge <= 0 {
		return false, nil
	}
	return now.Sub(fi.ModTime()) > maxAge, nil
}
