package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ticklist/internal/config"
	"ticklist/internal/ops"
	"ticklist/internal/task"
)

func backupCmd(cfgPath *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the data directory to a .tar.gz",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == config.StorageMemory {
				return errors.New("memory storage has nothing to back up")
			}
			if out == "" {
				ts := time.Now().UTC().Format("20060102T150405Z")
				out = filepath.Join("backups", "ticklist-"+ts+".tar.gz")
			}

			var opts ops.BackupOptions
			if cfg.Storage.Driver == config.StorageSQLite {
				rel, snap, cleanup, err := sqliteSnapshot(cmd, cfg.Storage)
				if err != nil {
					return err
				}
				defer cleanup()
				opts.Replace = map[string]string{rel: snap}
			}

			m, err := ops.Backup(cmd.Context(), cfg.Storage.DataDir, out, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d files, %d bytes)\n", out, m.Files, m.Bytes)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output archive path (.tar.gz)")
	return cmd
}

// sqliteSnapshot copies the live database so the archive holds a consistent image.
func sqliteSnapshot(cmd *cobra.Command, cfg config.StorageConfig) (string, string, func(), error) {
	rel, err := filepath.Rel(cfg.DataDir, cfg.SQLitePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", nil, fmt.Errorf("sqlite_path %s must be inside data_dir %s to be backed up", cfg.SQLitePath, cfg.DataDir)
	}
	tmp, err := os.MkdirTemp("", "ticklist-snapshot-")
	if err != nil {
		return "", "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	repo, err := task.OpenSQLiteRepo(cfg.SQLitePath)
	if err != nil {
		cleanup()
		return "", "", nil, err
	}
	defer repo.Close()
	snap := filepath.Join(tmp, "tasks.db")
	if err := repo.Snapshot(cmd.Context(), snap); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("snapshot sqlite: %w", err)
	}
	return filepath.ToSlash(rel), snap, cleanup, nil
}

func restoreCmd(cfgPath *string) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Unpack a backup into an empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				cfg, err := config.Load(*cfgPath)
				if err != nil {
					return err
				}
				target = cfg.Storage.DataDir
			}
			m, err := ops.Restore(cmd.Context(), args[0], target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d files into %s\n", m.Files, target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target-dir", "t", "", "restore target directory (default: data_dir from config)")
	return cmd
}

func drillCmd(cfgPath *string) *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Back up and restore into a scratch directory, then compare digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(workDir, 0o755); err != nil {
				return err
			}
			r, err := ops.Drill(cmd.Context(), cfg.Storage.DataDir, workDir, time.Now())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "backup:", r.Archive)
			fmt.Fprintln(w, "restored:", r.RestoreDir)
			fmt.Fprintln(w, "digest:", r.Digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&workDir, "work-dir", os.TempDir(), "scratch directory for drill artifacts")
	return cmd
}
