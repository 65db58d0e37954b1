package remote_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsync/cloudsync/internal/crypt"
	"github.com/cloudsync/cloudsync/internal/model"
	"github.com/cloudsync/cloudsync/internal/remote"
	"github.com/cloudsync/cloudsync/internal/remote/memstore"
)

func newConnector(t *testing.T, pageSize int, basePath string) (*remote.Connector, *memstore.Store) {
	t.Helper()
	store := memstore.New(pageSize)
	gw := crypt.NewGateway(crypt.NewOpenPGP("secret"))
	return remote.NewConnector(store, gw, basePath, nil), store
}

func TestSplitBasePath(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, remote.SplitBasePath("/a//b/"))
	assert.Nil(t, remote.SplitBasePath(""))
}

func TestResolveBasePath(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(0)

	id, err := remote.ResolveBasePath(ctx, store, []string{"backups", "laptop"})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Live(), "both segments created")

	again, err := remote.ResolveBasePath(ctx, store, []string{"backups", "laptop"})
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 2, store.Live(), "existing segments reused")

	store.Put(memstore.RootID, "backups", "", nil)
	_, err = remote.ResolveBasePath(ctx, store, []string{"backups"})
	var apiErr *model.RemoteAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.ErrorIs(t, err, model.ErrAmbiguousPath)
}

func TestConnector_UploadReadFolderDownload(t *testing.T) {
	ctx := context.Background()
	conn, store := newConnector(t, 2, "backup")

	root := model.NewRootItem()
	for i := 0; i < 5; i++ {
		item := &model.Item{Name: fmt.Sprintf("f%d.txt", i), Type: model.ItemTypeFile, Size: 3, ModifyTime: int64(100 + i)}
		root.AddChild(item)
		require.NoError(t, conn.Upload(ctx, item, []byte("abc")))
		assert.NotEmpty(t, item.RemoteID)
	}
	folder := &model.Item{Name: "dir", Type: model.ItemTypeFolder}
	root.AddChild(folder)
	require.NoError(t, conn.Upload(ctx, folder, nil))

	store.ResetCalls()
	items, err := conn.ReadFolder(ctx, model.NewRootItem())
	require.NoError(t, err)
	assert.Len(t, items, 6)
	assert.Equal(t, 3, store.Calls["List"], "six children at two per page")

	byName := map[string]*model.Item{}
	for _, it := range items {
		byName[it.Name] = it
	}
	require.Contains(t, byName, "f3.txt")
	assert.Equal(t, int64(103), byName["f3.txt"].ModifyTime)
	assert.Equal(t, model.ItemTypeFolder, byName["dir"].Type)

	data, err := conn.Download(ctx, byName["f3.txt"])
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestConnector_UpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	conn, store := newConnector(t, 0, "")

	root := model.NewRootItem()
	item := &model.Item{Name: "a.txt", Type: model.ItemTypeFile, Size: 1, ModifyTime: 1}
	root.AddChild(item)
	require.NoError(t, conn.Upload(ctx, item, []byte("1")))

	item.Size, item.ModifyTime = 2, 2
	require.NoError(t, conn.Update(ctx, item, []byte("22"), true))

	data, err := conn.Download(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "22", string(data))

	item.Permissions = 0o600
	require.NoError(t, conn.Update(ctx, item, nil, false))
	data, err = conn.Download(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "22", string(data), "metadata-only update keeps content")

	require.NoError(t, conn.Remove(ctx, item))
	assert.Equal(t, 0, store.Live())
}

func TestConnector_RemoveFolderRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	conn, store := newConnector(t, 0, "")

	root := model.NewRootItem()
	folder := &model.Item{Name: "a", Type: model.ItemTypeFolder}
	root.AddChild(folder)
	require.NoError(t, conn.Upload(ctx, folder, nil))
	child := &model.Item{Name: "x.txt", Type: model.ItemTypeFile, Size: 1}
	folder.AddChild(child)
	require.NoError(t, conn.Upload(ctx, child, []byte("x")))
	require.Equal(t, 2, store.Live())

	require.NoError(t, conn.Remove(ctx, folder))
	assert.Equal(t, 0, store.Live())

	_, err := store.Get(ctx, child.RemoteID)
	assert.ErrorIs(t, err, model.ErrTrashed)
}

func TestConnector_ReadFolderRejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(0)
	gw := crypt.NewGateway(crypt.NewOpenPGP("secret"))
	conn := remote.NewConnector(store, gw, "", nil)

	for _, name := range []string{"../evil", "a/b", "..", "."} {
		encName, err := gw.EncryptText(ctx, name)
		require.NoError(t, err)
		meta, err := gw.PackMetadata(ctx, &model.Item{Name: name, Type: model.ItemTypeFile, Size: 1})
		require.NoError(t, err)
		id := store.Put(memstore.RootID, encName, meta, []byte("x"))

		_, err = conn.ReadFolder(ctx, model.NewRootItem())
		var apiErr *model.RemoteAPIError
		require.True(t, errors.As(err, &apiErr), name)
		assert.ErrorIs(t, err, model.ErrInvalidName)
		assert.Equal(t, id, apiErr.ID)

		require.NoError(t, store.Remove(ctx, id))
	}
}

func TestConnector_GetMissingCarriesHint(t *testing.T) {
	conn, _ := newConnector(t, 0, "")
	_, err := conn.Get(context.Background(), "obj-404")

	var apiErr *model.RemoteAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "--nocache")
}

func TestConnector_GetUsesRunCache(t *testing.T) {
	ctx := context.Background()
	conn, store := newConnector(t, 0, "")

	root := model.NewRootItem()
	item := &model.Item{Name: "a", Type: model.ItemTypeFolder}
	root.AddChild(item)
	require.NoError(t, conn.Upload(ctx, item, nil))

	store.ResetCalls()
	_, err := conn.Get(ctx, item.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Calls["Get"])
}

type flakyStore struct {
	*memstore.Store
	failures int
	calls    int
}

func (f *flakyStore) List(ctx context.Context, parentID, token string) (*remote.Page, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("503 slow down")
	}
	return f.Store.List(ctx, parentID, token)
}

func TestRetryStore(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: memstore.New(0), failures: 2}
	store := remote.NewRetryStore(flaky, remote.RetryConfig{Attempts: 3, Delay: time.Millisecond}, nil)

	_, err := store.List(ctx, memstore.RootID, "")
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)

	flaky.calls, flaky.failures = 0, 5
	_, err = store.List(ctx, memstore.RootID, "")
	assert.Error(t, err)
	assert.Equal(t, 3, flaky.calls)

	_, err = store.Get(ctx, "obj-404")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestNewRetryStore_SingleAttemptUnwrapped(t *testing.T) {
	base := memstore.New(0)
	assert.Same(t, remote.Store(base), remote.NewRetryStore(base, remote.RetryConfig{Attempts: 1}, nil))
}

func TestRegistry(t *testing.T) {
	r := remote.NewRegistry()
	require.NoError(t, r.Register("memory", func(ctx context.Context, _ map[string]interface{}) (remote.Store, error) {
		return memstore.New(0), nil
	}))
	assert.Error(t, r.Register("memory", nil))

	s, err := r.Open(context.Background(), "memory", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Type())

	_, err = r.Open(context.Background(), "ftp", nil)
	assert.Error(t, err)
	assert.Equal(t, []string{"memory"}, r.Types())
}
