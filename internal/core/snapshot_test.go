package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/cloudsync/cloudsync/internal/model"
)

func sampleTree() *model.Item {
	root := model.NewRootItem()
	a := &model.Item{Name: "a", RemoteID: "id-a", Type: model.ItemTypeFolder, Size: 0, ModifyTime: 50, CreateTime: 40, GID: 100, UID: 1000, Permissions: 0o755}
	root.AddChild(a)
	a.AddChild(&model.Item{Name: "x, \"quoted\".txt", RemoteID: "id-x", Type: model.ItemTypeFile, Size: 10, ModifyTime: 100, CreateTime: 90, GID: 100, UID: 1000, Permissions: 0o644})
	a.AddChild(&model.Item{Name: "link", RemoteID: "id-l", Type: model.ItemTypeLink, Size: 5, ModifyTime: 100, CreateTime: 100, GID: -1, UID: -1, Permissions: 0o777})
	root.AddChild(&model.Item{Name: "b.txt", RemoteID: "id-b", Type: model.ItemTypeFile, Size: 3, ModifyTime: 7, CreateTime: 7, GID: 0, UID: 0, Permissions: 0o600})
	return root
}

func rows(t *testing.T, root *model.Item) []string {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, root); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}

func TestSnapshot_RoundTrip(t *testing.T) {
	root := sampleTree()

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, root); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}
	read, err := ReadSnapshot(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}

	want := rows(t, root)
	got := rows(t, read)
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	x, ok := read.Child("a")
	if !ok {
		t.Fatal("folder 'a' missing after round trip")
	}
	if _, ok := x.Child("x, \"quoted\".txt"); !ok {
		t.Error("quoted name not preserved")
	}
}

func TestSnapshot_PreOrder(t *testing.T) {
	got := rows(t, sampleTree())
	var paths []string
	for _, r := range got {
		paths = append(paths, strings.SplitN(r, ",", 2)[0])
	}
	want := []string{"a", "a/link", `"a/x`, "b.txt"}
	for i := range want {
		if !strings.HasPrefix(paths[i], want[i]) {
			t.Errorf("row %d: expected path starting with %q, got %q", i, want[i], paths[i])
		}
	}
}

func TestReadSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing parent", "a/b,id,2,1,1,1,1,1,1\n"},
		{"parent is a file", "a,id,2,1,1,1,1,1,1\na/b,id,2,1,1,1,1,1,1\n"},
		{"bad number", "a,id,2,x,1,1,1,1,1\n"},
		{"bad type", "a,id,9,1,1,1,1,1,1\n"},
		{"short row", "a,id,2\n"},
		{"child before parent", "a/b,id,2,1,1,1,1,1,1\na,id,1,1,1,1,1,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSnapshot(strings.NewReader(tt.input))
			var fe *model.FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %v", err)
			}
		})
	}
}

func TestSaveLoadSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/cache/.cloudsync_test.cache"

	if err := SaveSnapshot(fs, path, sampleTree()); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}
	if ok, _ := afero.Exists(fs, path+".tmp"); ok {
		t.Error("temporary file left behind")
	}

	root, err := LoadSnapshot(fs, path)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if len(root.Flatten()) != 5 {
		t.Errorf("expected 4 items plus root, got %d", len(root.Flatten()))
	}

	_, err = LoadSnapshot(fs, "/cache/missing")
	var fe *model.FormatError
	if !errors.As(err, &fe) {
		t.Errorf("expected FormatError for missing file, got %v", err)
	}
}

func TestSnapshotStale(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/cache/snap"
	now := time.Unix(1_000_000, 0)

	stale, err := SnapshotStale(fs, path, time.Hour, now)
	if err != nil || !stale {
		t.Fatalf("expected missing snapshot to be stale, got %v, %v", stale, err)
	}

	if err := SaveSnapshot(fs, path, model.NewRootItem()); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}
	old := now.Add(-2 * time.Hour)
	if err := fs.Chtimes(path, old, old); err != nil {
		t.Fatalf("failed to set times: %v", err)
	}

	if stale, _ := SnapshotStale(fs, path, time.Hour, now); !stale {
		t.Error("expected snapshot older than max age to be stale")
	}
	if stale, _ := SnapshotStale(fs, path, 3*time.Hour, now); stale {
		t.Error("expected fresh snapshot")
	}
	if stale, _ := SnapshotStale(fs, path, 0, now); stale {
		t.Error("expected zero max age to never expire")
	}
}
