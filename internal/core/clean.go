package core

import (
	"context"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Clean restores every duplicate (with its subtree) onto the local adapter so
// nothing is lost, then, when RemoveRemote is set, deletes the duplicates
// remotely in reverse order so children go before their folders.
//
// Remote deletion only happens after every local restore succeeded.
func (r *Reconciler) Clean(ctx context.Context, tree *Tree) (Counts, error) {
	var c Counts

	var items []*model.Item
	for _, d := range tree.Duplicates {
		items = append(items, d.Flatten()...)
	}

	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	defer func() {
		for i, item := range items {
			item.Name = names[i]
		}
	}()

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		if err := r.materialize(ctx, model.OperationClean, item); err != nil {
			r.summary(model.OperationClean, c)
			return c, err
		}
		c.Created++
	}
	if !r.opts.DryRun {
		for i := len(items) - 1; i >= 0; i-- {
			if !items[i].IsFolder() {
				continue
			}
			if err := r.local.SetAttributes(ctx, items[i]); err != nil {
				r.summary(model.OperationClean, c)
				return c, err
			}
		}
	}

	if r.opts.RemoveRemote {
		for i := len(items) - 1; i >= 0; i-- {
			item := items[i]
			r.decision(model.OperationClean, "remove", item)
			if !r.opts.DryRun {
				if err := r.mutating(); err != nil {
					return c, err
				}
				if err := r.remote.Remove(ctx, item); err != nil {
					r.summary(model.OperationClean, c)
					return c, err
				}
			}
			c.Removed++
		}
		if !r.opts.DryRun {
			tree.Duplicates = nil
		}
	} else if len(items) > 0 {
		r.logger.Info("duplicates restored locally, remote copies kept; enable clean.remove_remote to delete them")
	}

	r.summary(model.OperationClean, c)
	return c, nil
}
