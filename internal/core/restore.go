package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Restore materializes the remote tree onto the local adapter depth-first.
// Folders are created before their children and get their times and mode
// after them. With a limit set, a
// non-matching item is skipped along with its subtree.
func (r *Reconciler) Restore(ctx context.Context, tree *Tree) (Counts, error) {
	var c Counts
	if len(tree.Duplicates) > 0 {
		r.logger.Warn("restoring a tree with duplicates, only the newest copy of each is restored",
			zap.Int("duplicates", len(tree.Duplicates)))
	}
	err := r.restoreFolder(ctx, tree.Root, &c)
	r.summary(model.OperationRestore, c)
	return c, err
}

func (r *Reconciler) restoreFolder(ctx context.Context, parent *model.Item, c *Counts) error {
	for _, child := range parent.Children() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.allowed(child) {
			continue
		}
		if err := r.restoreItem(ctx, child, c); err != nil {
			return err
		}
	}
	return nil
}

// restoreItem writes one item and its subtree. A rename under the duplicate
// policy applies to the local copy only; the tree keeps the remote name.
func (r *Reconciler) restoreItem(ctx context.Context, item *model.Item, c *Counts) error {
	name := item.Name
	defer func() { item.Name = name }()

	if err := r.materialize(ctx, model.OperationRestore, item); err != nil {
		return err
	}
	c.Created++

	if !item.IsFolder() {
		return nil
	}
	if err := r.restoreFolder(ctx, item, c); err != nil {
		return err
	}
	if r.opts.DryRun {
		return nil
	}
	return r.local.SetAttributes(ctx, item)
}

// materialize runs the prepare step and, unless dry-run, downloads and writes item.
func (r *Reconciler) materialize(ctx context.Context, op model.Operation, item *model.Item) error {
	if err := r.local.PrepareUpload(ctx, item); err != nil {
		return err
	}
	r.decision(op, "restore", item)
	if r.opts.DryRun {
		return nil
	}
	content, err := r.remote.Download(ctx, item)
	if err != nil {
		return err
	}
	return r.local.Write(ctx, item, content)
}
