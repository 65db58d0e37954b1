// Package dirstore provides a remote.Store kept in a plain directory tree,
// for NAS shares and mounted drives.
//
// Layout:
//
//	<path>/objects/<id>        content
//	<path>/objects/<id>.json   descriptor (parent, encrypted name and metadata, trash flag)
//	<path>/children/<parent>/<id>   child index markers
package dirstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"

	"github.com/cloudsync/cloudsync/internal/model"
	"github.com/cloudsync/cloudsync/internal/remote"
)

// RootID is the identifier of the true root container.
const RootID = "root"

// Config holds dirstore settings.
type Config struct {
	Path     string `mapstructure:"path"`
	PageSize int    `mapstructure:"page_size"`
}

// Store implements remote.Store on an afero filesystem.
type Store struct {
	fs       afero.Fs
	path     string
	pageSize int
}

// New creates a store rooted at cfg.Path on fs.
func New(fs afero.Fs, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, &model.ConfigError{Msg: "dir store requires a path"}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	s := &Store{fs: fs, path: cfg.Path, pageSize: cfg.PageSize}
	for _, dir := range []string{s.objectsDir(), s.childrenDir(RootID)} {
		if err := fs.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return s, nil
}

// Factory builds a Store on the OS filesystem from registry settings.
func Factory(ctx context.Context, settings map[string]interface{}) (remote.Store, error) {
	var cfg Config
	if err := mapstructure.WeakDecode(settings, &cfg); err != nil {
		return nil, &model.ConfigError{Msg: "invalid dir store settings", Err: err}
	}
	return New(afero.NewOsFs(), cfg)
}

func (s *Store) objectsDir() string          { return filepath.Join(s.path, "objects") }
func (s *Store) childrenDir(id string) string { return filepath.Join(s.path, "children", id) }
func (s *Store) contentPath(id string) string { return filepath.Join(s.objectsDir(), id) }
func (s *Store) descPath(id string) string    { return filepath.Join(s.objectsDir(), id+".json") }

func (s *Store) Type() string { return "dir" }

func (s *Store) Root(ctx context.Context) (string, error) {
	return RootID, nil
}

func (s *Store) List(ctx context.Context, parentID, pageToken string) (*remote.Page, error) {
	infos, err := afero.ReadDir(s.fs, s.childrenDir(parentID))
	if err != nil {
		if os.IsNotExist(err) {
			return &remote.Page{}, nil
		}
		return nil, fmt.Errorf("failed to list children of '%s': %w", parentID, err)
	}

	page := &remote.Page{}
	for _, info := range infos {
		id := info.Name()
		if pageToken != "" && id <= pageToken {
			continue
		}
		if len(page.Objects) == s.pageSize {
			page.NextPageToken = page.Objects[len(page.Objects)-1].ID
			break
		}
		obj, err := s.readDesc(id)
		if err != nil {
			return nil, err
		}
		if obj.Trashed {
			continue
		}
		page.Objects = append(page.Objects, obj)
	}
	return page, nil
}

func (s *Store) Get(ctx context.Context, id string) (*remote.Object, error) {
	obj, err := s.readDesc(id)
	if err != nil {
		return nil, err
	}
	if obj.Trashed {
		return nil, fmt.Errorf("object '%s': %w", id, model.ErrTrashed)
	}
	return obj, nil
}

func (s *Store) Create(ctx context.Context, parentID, name, metadata string, content []byte) (string, error) {
	if parentID != RootID {
		if _, err := s.Get(ctx, parentID); err != nil {
			return "", err
		}
	}

	id := uuid.New().String()
	if content != nil {
		if err := afero.WriteFile(s.fs, s.contentPath(id), content, 0o600); err != nil {
			return "", fmt.Errorf("failed to write content: %w", err)
		}
	} else if err := s.fs.MkdirAll(s.childrenDir(id), 0o700); err != nil {
		return "", fmt.Errorf("failed to create child index: %w", err)
	}

	obj := &remote.Object{ID: id, ParentID: parentID, Name: name, Metadata: metadata, Size: int64(len(content))}
	if err := s.writeDesc(obj); err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(s.childrenDir(parentID), 0o700); err != nil {
		return "", fmt.Errorf("failed to create child index: %w", err)
	}
	if err := afero.WriteFile(s.fs, filepath.Join(s.childrenDir(parentID), id), nil, 0o600); err != nil {
		return "", fmt.Errorf("failed to index child: %w", err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, id, metadata string, content []byte) error {
	obj, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if content != nil {
		if err := afero.WriteFile(s.fs, s.contentPath(id), content, 0o600); err != nil {
			return fmt.Errorf("failed to write content: %w", err)
		}
		obj.Size = int64(len(content))
	}
	obj.Metadata = metadata
	return s.writeDesc(obj)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	obj, err := s.readDesc(id)
	if err != nil {
		return err
	}
	if err := s.removeChildren(ctx, id); err != nil {
		return err
	}
	obj.Trashed = true
	if err := s.writeDesc(obj); err != nil {
		return err
	}
	if err := s.fs.Remove(filepath.Join(s.childrenDir(obj.ParentID), id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to unindex '%s': %w", id, err)
	}
	return nil
}

func (s *Store) removeChildren(ctx context.Context, id string) error {
	infos, err := afero.ReadDir(s.fs, s.childrenDir(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list children of '%s': %w", id, err)
	}
	for _, info := range infos {
		if err := s.Remove(ctx, info.Name()); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *Store) Download(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to read content of '%s': %w", id, err)
	}
	return data, nil
}

func (s *Store) readDesc(id string) (*remote.Object, error) {
	data, err := afero.ReadFile(s.fs, s.descPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("object '%s': %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read descriptor of '%s': %w", id, err)
	}
	var obj remote.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor of '%s': %w", id, err)
	}
	return &obj, nil
}

func (s *Store) writeDesc(obj *remote.Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}
	tmp := s.descPath(obj.ID) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	if err := s.fs.Rename(tmp, s.descPath(obj.ID)); err != nil {
		return fmt.Errorf("failed to commit descriptor: %w", err)
	}
	return nil
}
