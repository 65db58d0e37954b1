// Package remote defines the opaque object store contract and the connector
// that maps encrypted remote objects to Items.
//
// INVARIANTS:
// - Objects are addressed only by their opaque ID, never by name
// - Names and metadata reach the store already encrypted
// - Listing is paginated; pages are fetched sequentially
package remote

import (
	"context"
)

// Object is a remote object as the store sees it. Name and Metadata are opaque.
type Object struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Name     string `json:"name"`
	Metadata string `json:"metadata,omitempty"`
	Size     int64  `json:"size"`
	Trashed  bool   `json:"trashed,omitempty"`
}

// Page is one page of a child listing.
// An empty NextPageToken means the listing is complete.
type Page struct {
	Objects       []*Object
	NextPageToken string
}

// Store is a paginated object API with opaque identifiers and small attached metadata.
type Store interface {
	// Type returns the backend type (s3, dir, memory).
	Type() string

	// Root returns the identifier of the store's true root container.
	Root(ctx context.Context) (string, error)

	// List returns one page of the non-trashed children of parentID.
	List(ctx context.Context, parentID, pageToken string) (*Page, error)

	// Get returns the object or an error wrapping model.ErrNotFound / model.ErrTrashed.
	Get(ctx context.Context, id string) (*Object, error)

	// Create stores a new child of parentID and returns its identifier.
	// content is nil for containers.
	Create(ctx context.Context, parentID, name, metadata string, content []byte) (string, error)

	// Update replaces the metadata of id. A nil content keeps the stored data.
	Update(ctx context.Context, id, metadata string, content []byte) error

	// Remove trashes or deletes id together with every descendant.
	// Descendants of a removed container are never listed or returned again.
	Remove(ctx context.Context, id string) error

	// Download returns the stored content of id.
	Download(ctx context.Context, id string) ([]byte, error)
}
