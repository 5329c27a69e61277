// Package ops archives and restores the server data directory.
package ops

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manifest summarizes an archive.
type Manifest struct {
	Files int
	Bytes int64
}

type BackupOptions struct {
	// Replace maps an archive-relative path to a file whose content is archived in its place,
	// such as a consistent SQLite snapshot standing in for the live database.
	Replace map[string]string
}

// liveFile reports files that only make sense to the running process.
func liveFile(rel string) bool {
	for _, suffix := range []string{".tmp", "-wal", "-shm", "-journal"} {
		if strings.HasSuffix(rel, suffix) {
			return true
		}
	}
	return false
}

func Backup(ctx context.Context, srcDir, archivePath string, opts BackupOptions) (Manifest, error) {
	var m Manifest
	srcDir = filepath.Clean(strings.TrimSpace(srcDir))
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	if srcDir == "" || archivePath == "" {
		return m, fmt.Errorf("srcDir and archivePath are required")
	}
	info, err := os.Stat(srcDir)
	if err != nil {
		return m, err
	}
	if !info.IsDir() {
		return m, fmt.Errorf("source is not a directory: %s", srcDir)
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return m, err
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return m, err
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		// Skip symlinks for predictable backup/restore.
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !d.IsDir() && liveFile(rel) {
			return nil
		}

		from := path
		if replacement, ok := opts.Replace[rel]; ok {
			from = replacement
		}
		info, err := os.Stat(from)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(from)
		if err != nil {
			return err
		}
		defer src.Close()
		n, err := io.Copy(tw, src)
		if err != nil {
			return err
		}
		m.Files++
		m.Bytes += n
		return nil
	})

	for _, c := range []io.Closer{tw, gz, f} {
		if err := c.Close(); err != nil && walkErr == nil {
			walkErr = err
		}
	}
	if walkErr != nil {
		_ = os.Remove(archivePath)
		return Manifest{}, walkErr
	}
	return m, nil
}

// Restore unpacks an archive into targetDir, which must be empty or absent.
func Restore(ctx context.Context, archivePath, targetDir string) (Manifest, error) {
	var m Manifest
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	targetDir = filepath.Clean(strings.TrimSpace(targetDir))
	if archivePath == "" || targetDir == "" {
		return m, fmt.Errorf("archivePath and targetDir are required")
	}
	if entries, err := os.ReadDir(targetDir); err == nil && len(entries) > 0 {
		return m, fmt.Errorf("restore target %s is not empty", targetDir)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return m, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return m, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return m, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return m, err
		}

		rel, err := sanitizeArchiveRelPath(hdr.Name)
		if err != nil {
			return m, err
		}
		outPath := filepath.Join(targetDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return m, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return m, err
			}
			dst, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return m, err
			}
			n, err := io.Copy(dst, tr)
			if err != nil {
				_ = dst.Close()
				return m, err
			}
			if err := dst.Close(); err != nil {
				return m, err
			}
			m.Files++
			m.Bytes += n
		}
	}
	return m, nil
}

func sanitizeArchiveRelPath(name string) (string, error) {
	name = filepath.Clean(strings.TrimSpace(name))
	if name == "." || name == "" {
		return "", fmt.Errorf("invalid archive entry path")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid absolute archive entry path: %s", name)
	}
	if strings.HasPrefix(name, ".."+string(filepath.Separator)) || name == ".." {
		return "", fmt.Errorf("invalid archive entry path traversal: %s", name)
	}
	return name, nil
}

// DirDigest hashes every archivable file under root by relative path and content.
func DirDigest(root string) (string, error) {
	root = filepath.Clean(root)
	entries := []string{}
	if err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !liveFile(rel) {
			entries = append(entries, rel)
		}
		return nil
	}); err != nil {
		return "", err
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, rel := range entries {
		_, _ = io.WriteString(h, rel+"\n")
		b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		_, _ = h.Write(b)
		_, _ = io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type DrillReport struct {
	Archive    string
	RestoreDir string
	Digest     string
	Manifest   Manifest
}

// Drill backs up dataDir, restores it under workDir and checks the two trees match.
func Drill(ctx context.Context, dataDir, workDir string, now time.Time) (DrillReport, error) {
	ts := now.UTC().Format("20060102T150405Z")
	r := DrillReport{
		Archive:    filepath.Join(workDir, "ticklist-drill-"+ts+".tar.gz"),
		RestoreDir: filepath.Join(workDir, "ticklist-drill-restore-"+ts),
	}
	m, err := Backup(ctx, dataDir, r.Archive, BackupOptions{})
	if err != nil {
		return r, err
	}
	r.Manifest = m
	if _, err := Restore(ctx, r.Archive, r.RestoreDir); err != nil {
		return r, err
	}
	src, err := DirDigest(dataDir)
	if err != nil {
		return r, err
	}
	restored, err := DirDigest(r.RestoreDir)
	if err != nil {
		return r, err
	}
	if src != restored {
		return r, fmt.Errorf("digest mismatch after restore: src=%s restored=%s", src, restored)
	}
	r.Digest = src
	return r, nil
}
