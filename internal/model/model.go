// Package model defines the domain models for cloudsync.
//
// INVARIANTS:
// - Items form a tree: every non-root item has exactly one parent
// - Sibling names are unique (children are keyed by name)
// - path(item) = path(parent) + "/" + name, root path = ""
// - The root is synthetic: Folder, numeric fields -1, never uploaded
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Separator joins the names of an item path.
const Separator = "/"

// ItemType represents the type of an item.
// The numeric values are persisted in snapshot files and packed remote metadata.
type ItemType int

const (
	ItemTypeUnknown ItemType = 0
	ItemTypeFolder  ItemType = 1
	ItemTypeFile    ItemType = 2
	ItemTypeLink    ItemType = 3
)

// String returns the human-readable type name.
func (t ItemType) String() string {
	switch t {
	case ItemTypeFolder:
		return "folder"
	case ItemTypeFile:
		return "file"
	case ItemTypeLink:
		return "link"
	default:
		return "unknown"
	}
}

// ParseItemType parses the numeric representation of an ItemType.
func ParseItemType(s string) (ItemType, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return ItemTypeUnknown, fmt.Errorf("invalid item type %q: %w", s, err)
	}
	t := ItemType(n)
	if t < ItemTypeUnknown || t > ItemTypeLink {
		return ItemTypeUnknown, fmt.Errorf("invalid item type %d", n)
	}
	return t, nil
}

// Item is one node of the synchronized tree.
type Item struct {
	Name        string
	RemoteID    string
	Type        ItemType
	Size        int64
	ModifyTime  int64
	CreateTime  int64
	GID         int64
	UID         int64
	Permissions int64

	parent   *Item
	children map[string]*Item
}

// NewRootItem creates the synthetic root of a tree.
func NewRootItem() *Item {
	return &Item{
		Type:        ItemTypeFolder,
		Size:        -1,
		ModifyTime:  -1,
		CreateTime:  -1,
		GID:         -1,
		UID:         -1,
		Permissions: -1,
		children:    make(map[string]*Item),
	}
}

// IsRoot reports whether the item has no parent.
func (i *Item) IsRoot() bool {
	return i.parent == nil
}

// Parent returns the parent item, or nil for the root.
func (i *Item) Parent() *Item {
	return i.parent
}

// IsFolder reports whether the item is a folder.
func (i *Item) IsFolder() bool {
	return i.Type == ItemTypeFolder
}

// AddChild attaches child under i, keyed by its name.
// An existing child with the same name is replaced; callers resolve collisions first.
func (i *Item) AddChild(child *Item) {
	if i.children == nil {
		i.children = make(map[string]*Item)
	}
	child.parent = i
	i.children[child.Name] = child
}

// SetParent records p as the parent of i without attaching i to p's children.
// Remote duplicates keep a path this way while staying out of the canonical tree.
func (i *Item) SetParent(p *Item) {
	i.parent = p
}

// Child returns the child with the given name.
func (i *Item) Child(name string) (*Item, bool) {
	c, ok := i.children[name]
	return c, ok
}

// RemoveChild detaches child from i. The detached subtree is no longer reachable from the tree.
func (i *Item) RemoveChild(child *Item) {
	if c, ok := i.children[child.Name]; ok && c == child {
		delete(i.children, child.Name)
	}
}

// Children returns the children sorted by name.
func (i *Item) Children() []*Item {
	out := make([]*Item, 0, len(i.children))
	for _, c := range i.children {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Len returns the number of children.
func (i *Item) Len() int {
	return len(i.children)
}

// Path returns the slash-joined path from the root. The root path is "".
func (i *Item) Path() string {
	if i.parent == nil {
		return ""
	}
	var names []string
	for n := i; n.parent != nil; n = n.parent {
		names = append(names, n.Name)
	}
	for l, r := 0, len(names)-1; l < r; l, r = l+1, r-1 {
		names[l], names[r] = names[r], names[l]
	}
	return strings.Join(names, Separator)
}

// IsTypeChanged reports whether other has a different type.
func (i *Item) IsTypeChanged(other *Item) bool {
	return i.Type != other.Type
}

// IsFiledataChanged reports whether size, modify time or create time differ.
func (i *Item) IsFiledataChanged(other *Item) bool {
	return i.Size != other.Size ||
		i.ModifyTime != other.ModifyTime ||
		i.CreateTime != other.CreateTime
}

// IsMetadataChanged reports whether filedata or ownership and permissions differ.
func (i *Item) IsMetadataChanged(other *Item) bool {
	return i.IsFiledataChanged(other) ||
		i.GID != other.GID ||
		i.UID != other.UID ||
		i.Permissions != other.Permissions
}

// Update copies size, times, ownership and permissions from other.
// Type and remote identifier are left untouched.
func (i *Item) Update(other *Item) {
	i.Size = other.Size
	i.ModifyTime = other.ModifyTime
	i.CreateTime = other.CreateTime
	i.GID = other.GID
	i.UID = other.UID
	i.Permissions = other.Permissions
}

// Flatten returns the item followed by all of its descendants in pre-order.
func (i *Item) Flatten() []*Item {
	out := []*Item{i}
	if i.IsFolder() {
		for _, c := range i.Children() {
			out = append(out, c.Flatten()...)
		}
	}
	return out
}

// Walk visits every descendant of i depth-first in name order.
// Returning false from fn skips the subtree of the visited item.
func (i *Item) Walk(fn func(*Item) (bool, error)) error {
	for _, c := range i.Children() {
		descend, err := fn(c)
		if err != nil {
			return err
		}
		if descend && c.IsFolder() {
			if err := c.Walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}
