package remote

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/crypt"
	"github.com/cloudsync/cloudsync/internal/model"
)

const nocacheHint = "try again with --nocache"

// Connector materializes remote objects as Items and pushes Items to a Store,
// encrypting names, metadata and content on the way.
//
// The object cache is run-scoped and not safe for concurrent use.
type Connector struct {
	store    Store
	gateway  *crypt.Gateway
	basePath []string
	logger   *zap.Logger

	rootID string
	cache  map[string]*Object
}

// NewConnector creates a connector rooted at basePath inside store.
func NewConnector(store Store, gateway *crypt.Gateway, basePath string, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		store:    store,
		gateway:  gateway,
		basePath: SplitBasePath(basePath),
		logger:   logger,
		cache:    make(map[string]*Object),
	}
}

// Root resolves (and creates when missing) the backup base container.
func (c *Connector) Root(ctx context.Context) (string, error) {
	if c.rootID != "" {
		return c.rootID, nil
	}
	id, err := ResolveBasePath(ctx, c.store, c.basePath)
	if err != nil {
		return "", err
	}
	c.logger.Debug("resolved base path", zap.Strings("segments", c.basePath), zap.String("id", id))
	c.rootID = id
	return id, nil
}

func (c *Connector) containerID(ctx context.Context, item *model.Item) (string, error) {
	if item.IsRoot() {
		return c.Root(ctx)
	}
	if item.RemoteID == "" {
		return "", &model.RemoteAPIError{Op: "resolve parent", ID: item.Path(), Err: fmt.Errorf("folder has no remote identifier")}
	}
	return item.RemoteID, nil
}

// ReadFolder lists every child of parent, fetching pages sequentially.
func (c *Connector) ReadFolder(ctx context.Context, parent *model.Item) ([]*model.Item, error) {
	parentID, err := c.containerID(ctx, parent)
	if err != nil {
		return nil, err
	}

	var items []*model.Item
	token := ""
	for {
		page, err := c.store.List(ctx, parentID, token)
		if err != nil {
			return nil, &model.RemoteAPIError{Op: "list", ID: parentID, Err: err}
		}
		for _, obj := range page.Objects {
			c.cache[obj.ID] = obj
			item, err := c.toItem(ctx, obj)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	return items, nil
}

func (c *Connector) toItem(ctx context.Context, obj *Object) (*model.Item, error) {
	name, err := c.gateway.DecryptText(ctx, obj.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt name of '%s': %w", obj.ID, err)
	}
	if !validName(name) {
		return nil, &model.RemoteAPIError{
			Op:  "read",
			ID:  obj.ID,
			Err: fmt.Errorf("%w %q", model.ErrInvalidName, name),
		}
	}
	item := &model.Item{Name: name, RemoteID: obj.ID}
	if err := c.gateway.UnpackMetadata(ctx, obj.Metadata, item); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of '%s': %w", obj.ID, err)
	}
	return item, nil
}

// validName reports whether name is a single path segment.
func validName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, model.Separator+string(filepath.Separator)+"\x00")
}

// Get returns the object for id, consulting the run cache first.
func (c *Connector) Get(ctx context.Context, id string) (*Object, error) {
	if obj, ok := c.cache[id]; ok {
		return obj, nil
	}
	obj, err := c.store.Get(ctx, id)
	if err == nil && obj.Trashed {
		err = model.ErrTrashed
	}
	if err != nil {
		e := &model.RemoteAPIError{Op: "get", ID: id, Err: err}
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrTrashed) {
			e.Hint = nocacheHint
		}
		return nil, e
	}
	c.cache[id] = obj
	return obj, nil
}

// Upload creates item under its parent and records the new identifier on item.
func (c *Connector) Upload(ctx context.Context, item *model.Item, content []byte) error {
	parent := item.Parent()
	if parent == nil {
		return fmt.Errorf("cannot upload the root item")
	}
	parentID, err := c.containerID(ctx, parent)
	if err != nil {
		return err
	}

	name, err := c.gateway.EncryptText(ctx, item.Name)
	if err != nil {
		return err
	}
	meta, err := c.gateway.PackMetadata(ctx, item)
	if err != nil {
		return err
	}
	data, err := c.encryptContent(ctx, item, content)
	if err != nil {
		return err
	}

	id, err := c.store.Create(ctx, parentID, name, meta, data)
	if err != nil {
		return &model.RemoteAPIError{Op: "create", ID: item.Path(), Err: err}
	}
	item.RemoteID = id
	c.cache[id] = &Object{ID: id, ParentID: parentID, Name: name, Metadata: meta, Size: int64(len(data))}
	return nil
}

// Update pushes item's metadata, and its content when withData is set.
func (c *Connector) Update(ctx context.Context, item *model.Item, content []byte, withData bool) error {
	obj, err := c.Get(ctx, item.RemoteID)
	if err != nil {
		return err
	}

	meta, err := c.gateway.PackMetadata(ctx, item)
	if err != nil {
		return err
	}
	var data []byte
	if withData {
		if data, err = c.encryptContent(ctx, item, content); err != nil {
			return err
		}
	}

	if err := c.store.Update(ctx, obj.ID, meta, data); err != nil {
		return &model.RemoteAPIError{Op: "update", ID: obj.ID, Err: err}
	}
	updated := *obj
	updated.Metadata = meta
	if data != nil {
		updated.Size = int64(len(data))
	}
	c.cache[obj.ID] = &updated
	return nil
}

// Remove trashes the object behind item.
func (c *Connector) Remove(ctx context.Context, item *model.Item) error {
	obj, err := c.Get(ctx, item.RemoteID)
	if err != nil {
		return err
	}
	if err := c.store.Remove(ctx, obj.ID); err != nil {
		return &model.RemoteAPIError{Op: "remove", ID: obj.ID, Err: err}
	}
	delete(c.cache, obj.ID)
	return nil
}

// Download returns the decrypted content of item.
func (c *Connector) Download(ctx context.Context, item *model.Item) ([]byte, error) {
	if item.IsFolder() {
		return nil, nil
	}
	data, err := c.store.Download(ctx, item.RemoteID)
	if err != nil {
		e := &model.RemoteAPIError{Op: "download", ID: item.RemoteID, Err: err}
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrTrashed) {
			e.Hint = nocacheHint
		}
		return nil, e
	}
	return c.gateway.Decrypt(ctx, data)
}

func (c *Connector) encryptContent(ctx context.Context, item *model.Item, content []byte) ([]byte, error) {
	if item.IsFolder() {
		return nil, nil
	}
	if content == nil {
		content = []byte{}
	}
	return c.gateway.Encrypt(ctx, content)
}
