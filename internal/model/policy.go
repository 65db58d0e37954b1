package model

import "fmt"

// DuplicatePolicy controls what happens when a restored item already exists locally.
type DuplicatePolicy string

const (
	DuplicateStop   DuplicatePolicy = "stop"
	DuplicateUpdate DuplicatePolicy = "update"
	DuplicateRename DuplicatePolicy = "rename"
)

// ParseDuplicatePolicy validates a duplicate policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(s); p {
	case DuplicateStop, DuplicateUpdate, DuplicateRename:
		return p, nil
	case "":
		return DuplicateStop, nil
	}
	return "", &ConfigError{Msg: fmt.Sprintf("unknown duplicate policy %q (expected stop, update or rename)", s)}
}

// SymlinkPolicy controls how symbolic links are enumerated during backup.
type SymlinkPolicy string

const (
	// SymlinkAll keeps every symlink as a Link item.
	SymlinkAll SymlinkPolicy = "all"
	// SymlinkInternal keeps links whose target lies inside the backup root.
	SymlinkInternal SymlinkPolicy = "internal"
	// SymlinkNone resolves every link to its target.
	SymlinkNone SymlinkPolicy = "none"
)

// ParseSymlinkPolicy validates a symlink policy name.
func ParseSymlinkPolicy(s string) (SymlinkPolicy, error) {
	switch p := SymlinkPolicy(s); p {
	case SymlinkAll, SymlinkInternal, SymlinkNone:
		return p, nil
	case "":
		return SymlinkInternal, nil
	}
	return "", &ConfigError{Msg: fmt.Sprintf("unknown symlink policy %q (expected internal, all or none)", s)}
}
