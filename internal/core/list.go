package core

import (
	"context"

	"github.com/cloudsync/cloudsync/internal/model"
)

// List visits the remote tree depth-first in name order and calls fn for each
// item that passes the limit. Subtrees of non-matching items are skipped.
func (r *Reconciler) List(ctx context.Context, tree *Tree, fn func(*model.Item) error) error {
	return tree.Root.Walk(func(item *model.Item) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !r.allowed(item) {
			return false, nil
		}
		r.metrics.Inc(model.OperationList, "list")
		return true, fn(item)
	})
}
