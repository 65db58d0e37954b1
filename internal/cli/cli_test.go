package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsync/cloudsync/internal/config"
)

// useConfig points the global flags at a fresh config backed by a dir store.
func useConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()

	cfg := &config.Config{
		Passphrase: "secret",
		Cipher:     config.CipherConfig{Backend: "openpgp"},
		Remote: config.RemoteConfig{
			Type: "dir",
			Dir:  map[string]interface{}{"path": filepath.Join(base, "store")},
		},
		Cache:   config.CacheConfig{Dir: filepath.Join(base, "cache")},
		Journal: config.JournalConfig{Enabled: true},
		Logging: config.LoggingConfig{Level: "warn"},
	}
	path := filepath.Join(base, "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))

	setGlobals(path)
	t.Cleanup(func() { setGlobals("") })
	return base
}

func setGlobals(path string) {
	configPath = path
	verbose = false
	quiet = false
	dryRun = false
	forceStart = false
	cacheMaxAge = -1
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudsync", "config.yaml")
	setGlobals(path)
	t.Cleanup(func() { setGlobals("") })

	var out bytes.Buffer
	require.NoError(t, RunInit(&out, false))
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpg", cfg.Cipher.Backend)
	assert.Equal(t, 1, cfg.Cache.MaxAgeDays)

	err = RunInit(&out, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, RunInit(&out, true))
}

func TestBackupRestoreListJournal(t *testing.T) {
	base := useConfig(t)
	ctx := context.Background()

	src := filepath.Join(base, "src")
	writeFile(t, filepath.Join(src, "a", "x.txt"), "hello")
	writeFile(t, filepath.Join(src, "b.txt"), "world")

	var out bytes.Buffer
	require.NoError(t, RunBackup(ctx, &out, RunOptions{Path: src, Name: "docs"}))
	assert.Contains(t, out.String(), "Created: 3")

	out.Reset()
	require.NoError(t, RunBackup(ctx, &out, RunOptions{Path: src, Name: "docs"}))
	assert.Contains(t, out.String(), "Skipped: 3")

	out.Reset()
	require.NoError(t, RunList(ctx, &out, RunOptions{Name: "docs", NoCache: true}))
	assert.Contains(t, out.String(), "a/x.txt")
	assert.Contains(t, out.String(), "b.txt")

	dst := filepath.Join(base, "dst")
	require.NoError(t, os.MkdirAll(dst, 0o755))
	out.Reset()
	require.NoError(t, RunRestore(ctx, &out, RunOptions{Path: dst, Name: "docs", NoPermissions: true}))
	assert.Contains(t, out.String(), "Created: 3")

	data, err := os.ReadFile(filepath.Join(dst, "a", "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	out.Reset()
	require.NoError(t, RunJournalList(ctx, &out, 0))
	assert.Contains(t, out.String(), "restore")
	assert.Contains(t, out.String(), "committed")

	out.Reset()
	require.NoError(t, RunJournalPending(ctx, &out))
	assert.Contains(t, out.String(), "No pending runs.")
}

func TestRunValidation(t *testing.T) {
	base := useConfig(t)
	ctx := context.Background()
	var out bytes.Buffer

	err := RunBackup(ctx, &out, RunOptions{Path: base, Name: "a/b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backup name")

	err = RunBackup(ctx, &out, RunOptions{Path: filepath.Join(base, "missing"), Name: "docs"})
	require.Error(t, err)

	err = RunRestore(ctx, &out, RunOptions{Path: base, Name: "docs", Duplicate: "merge"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate policy")

	err = RunRestore(ctx, &out, RunOptions{Path: base, Name: "docs", Limit: "("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestDryRunBackupWritesNothing(t *testing.T) {
	base := useConfig(t)
	dryRun = true
	ctx := context.Background()

	src := filepath.Join(base, "src")
	writeFile(t, filepath.Join(src, "x.txt"), "hello")

	var out bytes.Buffer
	require.NoError(t, RunBackup(ctx, &out, RunOptions{Path: src, Name: "docs"}))
	assert.Contains(t, out.String(), "[DRY-RUN]")
	assert.Contains(t, out.String(), "Created: 1")

	dryRun = false
	out.Reset()
	require.NoError(t, RunList(ctx, &out, RunOptions{Name: "docs", NoCache: true}))
	assert.NotContains(t, out.String(), "x.txt")
}
