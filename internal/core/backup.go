package core

import (
	"context"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Backup mirrors the local tree onto the remote tree.
//
// Per local child against the remote sibling of the same name:
//
//	no sibling          -> create
//	type changed        -> remove + create
//	metadata changed    -> update (content only when size or times changed)
//	unchanged           -> skip
//
// Remote children without a local counterpart are removed after their
// siblings are processed. A tree with duplicates is refused before any call.
func (r *Reconciler) Backup(ctx context.Context, tree *Tree) (Counts, error) {
	var c Counts
	if len(tree.Duplicates) > 0 {
		return c, &model.DuplicateConflict{Items: DuplicateRefs(tree.Duplicates)}
	}

	err := r.backupFolder(ctx, tree.Root, &c)
	r.summary(model.OperationBackup, c)
	return c, err
}

func (r *Reconciler) backupFolder(ctx context.Context, remoteParent *model.Item, c *Counts) error {
	unused := make(map[string]*model.Item, remoteParent.Len())
	for _, child := range remoteParent.Children() {
		unused[child.Name] = child
	}

	locals, err := r.local.ReadFolder(ctx, remoteParent)
	if err != nil {
		return err
	}

	for _, local := range locals {
		if err := ctx.Err(); err != nil {
			return err
		}

		remoteChild, ok := remoteParent.Child(local.Name)
		switch {
		case !ok:
			remoteParent.AddChild(local)
			remoteChild = local
			if err := r.create(ctx, local); err != nil {
				return err
			}
			c.Created++

		case local.IsTypeChanged(remoteChild):
			if err := r.remove(ctx, remoteChild); err != nil {
				return err
			}
			c.Removed++
			remoteParent.AddChild(local)
			remoteChild = local
			if err := r.create(ctx, local); err != nil {
				return err
			}
			c.Created++

		case local.IsMetadataChanged(remoteChild):
			withData := local.IsFiledataChanged(remoteChild)
			remoteChild.Update(local)
			if err := r.update(ctx, remoteChild, withData); err != nil {
				return err
			}
			c.Updated++

		default:
			r.decision(model.OperationBackup, "skip", remoteChild)
			c.Skipped++
		}

		delete(unused, local.Name)

		if remoteChild.IsFolder() {
			if err := r.backupFolder(ctx, remoteChild, c); err != nil {
				return err
			}
		}
	}

	for _, orphan := range remoteParent.Children() {
		if _, ok := unused[orphan.Name]; !ok {
			continue
		}
		remoteParent.RemoveChild(orphan)
		if err := r.remove(ctx, orphan); err != nil {
			return err
		}
		c.Removed++
	}
	return nil
}

func (r *Reconciler) create(ctx context.Context, item *model.Item) error {
	r.decision(model.OperationBackup, "create", item)
	if r.opts.DryRun {
		return nil
	}
	content, err := r.local.ReadContent(ctx, item)
	if err != nil {
		return err
	}
	if err := r.mutating(); err != nil {
		return err
	}
	return r.remote.Upload(ctx, item, content)
}

func (r *Reconciler) update(ctx context.Context, item *model.Item, withData bool) error {
	r.decision(model.OperationBackup, "update", item)
	if r.opts.DryRun {
		return nil
	}
	var content []byte
	if withData {
		var err error
		if content, err = r.local.ReadContent(ctx, item); err != nil {
			return err
		}
	}
	if err := r.mutating(); err != nil {
		return err
	}
	return r.remote.Update(ctx, item, content, withData)
}

func (r *Reconciler) remove(ctx context.Context, item *model.Item) error {
	r.decision(model.OperationBackup, "remove", item)
	if r.opts.DryRun {
		return nil
	}
	if err := r.mutating(); err != nil {
		return err
	}
	return r.remote.Remove(ctx, item)
}
