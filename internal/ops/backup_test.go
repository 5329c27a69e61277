package ops

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	got := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		got[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestBackupRestore_RoundTripSkipsLiveFiles(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	files := map[string]string{
		"tasks/tasks.json": `{"users":{"u1":{"t1":{"title":"Laundry"}}}}`,
		"auth/auth.json":   `{"usersById":{}}`,
		"tasks.db":         "sqlite-bytes",
	}
	writeTree(t, src, files)
	writeTree(t, src, map[string]string{
		"tasks.db-wal":         "wal",
		"tasks.db-shm":         "shm",
		"tasks/tasks.json.tmp": "half written",
	})

	ctx := context.Background()
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	m, err := Backup(ctx, src, archive, BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Files)

	restoreDir := filepath.Join(t.TempDir(), "restore")
	rm, err := Restore(ctx, archive, restoreDir)
	require.NoError(t, err)
	assert.Equal(t, m, rm)
	assert.Equal(t, files, readTree(t, restoreDir))

	_, err = Restore(ctx, archive, restoreDir)
	assert.Error(t, err, "restoring over existing data is refused")
}

func TestBackup_ReplaceSubstitutesSnapshot(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"tasks.db": "live"})
	snap := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, os.WriteFile(snap, []byte("consistent"), 0o644))

	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	_, err := Backup(context.Background(), src, archive, BackupOptions{Replace: map[string]string{"tasks.db": snap}})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out")
	_, err = Restore(context.Background(), archive, out)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tasks.db": "consistent"}, readTree(t, out))
}

func TestBackup_CancelledContextLeavesNoArchive(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.json": "{}"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	_, err := Backup(ctx, src, archive, BackupOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, archive)
}

func TestDrill(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"tasks/tasks.json": "{}", "auth/auth.json": "{}"})

	r, err := Drill(context.Background(), src, t.TempDir(), time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, r.Archive, "ticklist-drill-20260207T090000Z")
	assert.Equal(t, 2, r.Manifest.Files)
	assert.Len(t, r.Digest, 64)
}

func TestRestore_RejectsPathTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bad.tar.gz")
	f, err := os.Create(archive)
	require.NoError(t, err)

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../escape.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len("bad")),
	}))
	_, err = tw.Write([]byte("bad"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	_, err = Restore(context.Background(), archive, filepath.Join(t.TempDir(), "out"))
	assert.Error(t, err)
}
