package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/model"
)

// LocalAdapter is the local filesystem side of a run.
type LocalAdapter interface {
	ReadFolder(ctx context.Context, parent *model.Item) ([]*model.Item, error)
	ReadContent(ctx context.Context, item *model.Item) ([]byte, error)
	PrepareUpload(ctx context.Context, item *model.Item) error
	Write(ctx context.Context, item *model.Item, content []byte) error
	SetAttributes(ctx context.Context, item *model.Item) error
}

// RemoteAdapter is the remote store side of a run, working on decrypted Items.
type RemoteAdapter interface {
	ReadFolder(ctx context.Context, parent *model.Item) ([]*model.Item, error)
	Upload(ctx context.Context, item *model.Item, content []byte) error
	Update(ctx context.Context, item *model.Item, content []byte, withData bool) error
	Remove(ctx context.Context, item *model.Item) error
	Download(ctx context.Context, item *model.Item) ([]byte, error)
}

// Tree is the remote-side tree of a run plus the duplicates found while building it.
type Tree struct {
	Root       *model.Item
	Duplicates []*model.Item
}

// TreeFromSnapshot wraps a tree read from a snapshot. Snapshots never hold duplicates.
func TreeFromSnapshot(root *model.Item) *Tree {
	return &Tree{Root: root}
}

// RemoteWalker builds a Tree by walking the remote store depth-first.
type RemoteWalker struct {
	remote RemoteAdapter
	logger *zap.Logger
}

// NewRemoteWalker creates a walker over remote.
func NewRemoteWalker(remote RemoteAdapter, logger *zap.Logger) *RemoteWalker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteWalker{remote: remote, logger: logger}
}

// Walk lists the whole remote tree. When two siblings share a name, the one
// with the strictly greater modify time is kept and the other is recorded as
// a duplicate. Duplicate folders are walked too so clean can recover them whole.
func (w *RemoteWalker) Walk(ctx context.Context) (*Tree, error) {
	tree := &Tree{Root: model.NewRootItem()}
	if err := w.walk(ctx, tree, tree.Root); err != nil {
		return nil, err
	}
	if len(tree.Duplicates) > 0 {
		w.logger.Warn("remote tree has duplicates", zap.Int("count", len(tree.Duplicates)))
	}
	return tree, nil
}

func (w *RemoteWalker) walk(ctx context.Context, tree *Tree, parent *model.Item) error {
	children, err := w.remote.ReadFolder(ctx, parent)
	if err != nil {
		return err
	}

	for _, child := range children {
		existing, ok := parent.Child(child.Name)
		switch {
		case !ok:
			parent.AddChild(child)
		case child.ModifyTime > existing.ModifyTime:
			parent.AddChild(child)
			tree.Duplicates = append(tree.Duplicates, existing)
			w.logger.Debug("duplicate replaced", zap.String("path", child.Path()), zap.String("id", existing.RemoteID))
		default:
			child.SetParent(parent)
			tree.Duplicates = append(tree.Duplicates, child)
			w.logger.Debug("duplicate found", zap.String("path", child.Path()), zap.String("id", child.RemoteID))
		}
	}

	for _, child := range children {
		if child.IsFolder() {
			if err := w.walk(ctx, tree, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// DuplicateRefs flattens duplicates (each with its subtree) into identifiers and paths.
func DuplicateRefs(duplicates []*model.Item) []model.DuplicateRef {
	var refs []model.DuplicateRef
	for _, d := range duplicates {
		for _, item := range d.Flatten() {
			refs = append(refs, model.DuplicateRef{RemoteID: item.RemoteID, Path: item.Path()})
		}
	}
	return refs
}
