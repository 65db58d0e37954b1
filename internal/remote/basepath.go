package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudsync/cloudsync/internal/model"
)

// SplitBasePath splits a slash separated base path into its non-empty segments.
func SplitBasePath(basePath string) []string {
	var segments []string
	for _, s := range strings.Split(basePath, "/") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// ResolveBasePath walks segments from the store's true root, creating missing
// containers. Container names above the backup root are stored in clear.
// More than one match for a segment is an ambiguous path.
func ResolveBasePath(ctx context.Context, store Store, segments []string) (string, error) {
	parentID, err := store.Root(ctx)
	if err != nil {
		return "", &model.RemoteAPIError{Op: "resolve root", Err: err}
	}

	for _, segment := range segments {
		var matches []string
		token := ""
		for {
			page, err := store.List(ctx, parentID, token)
			if err != nil {
				return "", &model.RemoteAPIError{Op: "list", ID: parentID, Err: err}
			}
			for _, obj := range page.Objects {
				if obj.Name == segment {
					matches = append(matches, obj.ID)
				}
			}
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}

		switch len(matches) {
		case 0:
			id, err := store.Create(ctx, parentID, segment, "", nil)
			if err != nil {
				return "", &model.RemoteAPIError{Op: "create base folder", ID: segment, Err: err}
			}
			parentID = id
		case 1:
			parentID = matches[0]
		default:
			return "", &model.RemoteAPIError{
				Op:  "resolve base path",
				ID:  segment,
				Err: fmt.Errorf("%w: %d folders named '%s'", model.ErrAmbiguousPath, len(matches), segment),
			}
		}
	}

	return parentID, nil
}
