// Package memstore provides an in-memory remote.Store with trash semantics.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cloudsync/cloudsync/internal/model"
	"github.com/cloudsync/cloudsync/internal/remote"
)

// RootID is the identifier of the true root container.
const RootID = "root"

type entry struct {
	obj     remote.Object
	content []byte
	seq     int
}

// Store keeps objects in memory. Identifiers are "obj-1", "obj-2", ... in creation order.
type Store struct {
	mu       sync.Mutex
	pageSize int
	next     int
	objects  map[string]*entry

	// Calls counts mutating and listing calls by method name.
	Calls map[string]int
}

// New creates an empty store listing pageSize objects per page (0 = unlimited).
func New(pageSize int) *Store {
	return &Store{
		pageSize: pageSize,
		objects:  make(map[string]*entry),
		Calls:    make(map[string]int),
	}
}

func (s *Store) Type() string { return "memory" }

func (s *Store) Root(ctx context.Context) (string, error) {
	return RootID, nil
}

func (s *Store) List(ctx context.Context, parentID, pageToken string) (*remote.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["List"]++

	var children []*entry
	for _, e := range s.objects {
		if e.obj.ParentID == parentID && !e.obj.Trashed {
			children = append(children, e)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].seq < children[j].seq })

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		start = n
	}
	if start > len(children) {
		start = len(children)
	}
	end := len(children)
	if s.pageSize > 0 && start+s.pageSize < end {
		end = start + s.pageSize
	}

	page := &remote.Page{}
	for _, e := range children[start:end] {
		obj := e.obj
		page.Objects = append(page.Objects, &obj)
	}
	if end < len(children) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (s *Store) Get(ctx context.Context, id string) (*remote.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["Get"]++

	e, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("object '%s': %w", id, model.ErrNotFound)
	}
	if e.obj.Trashed {
		return nil, fmt.Errorf("object '%s': %w", id, model.ErrTrashed)
	}
	obj := e.obj
	return &obj, nil
}

func (s *Store) Create(ctx context.Context, parentID, name, metadata string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["Create"]++

	s.next++
	id := "obj-" + strconv.Itoa(s.next)
	s.objects[id] = &entry{
		obj:     remote.Object{ID: id, ParentID: parentID, Name: name, Metadata: metadata, Size: int64(len(content))},
		content: append([]byte(nil), content...),
		seq:     s.next,
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, id, metadata string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["Update"]++

	e, ok := s.objects[id]
	if !ok || e.obj.Trashed {
		return fmt.Errorf("object '%s': %w", id, model.ErrNotFound)
	}
	e.obj.Metadata = metadata
	if content != nil {
		e.content = append([]byte(nil), content...)
		e.obj.Size = int64(len(content))
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["Remove"]++

	e, ok := s.objects[id]
	if !ok {
		return fmt.Errorf("object '%s': %w", id, model.ErrNotFound)
	}
	s.trash(e)
	return nil
}

func (s *Store) trash(e *entry) {
	e.obj.Trashed = true
	for _, child := range s.objects {
		if child.obj.ParentID == e.obj.ID && !child.obj.Trashed {
			s.trash(child)
		}
	}
}

func (s *Store) Download(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["Download"]++

	e, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("object '%s': %w", id, model.ErrNotFound)
	}
	return append([]byte(nil), e.content...), nil
}

// Put inserts a raw object directly, bypassing encryption. Used to stage
// provider-side states such as duplicates.
func (s *Store) Put(parentID, name, metadata string, content []byte) string {
	id, _ := s.Create(context.Background(), parentID, name, metadata, content)
	s.mu.Lock()
	s.Calls["Create"]--
	s.mu.Unlock()
	return id
}

// Mutations returns the number of Create, Update and Remove calls.
func (s *Store) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls["Create"] + s.Calls["Update"] + s.Calls["Remove"]
}

// ResetCalls clears the call counters.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = make(map[string]int)
}

// Live returns the number of non-trashed objects.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.objects {
		if !e.obj.Trashed {
			n++
		}
	}
	return n
}
