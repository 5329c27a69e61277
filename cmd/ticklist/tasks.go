package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ticklist/internal/client"
	"ticklist/internal/config"
	"ticklist/internal/export"
	"ticklist/internal/model"
	"ticklist/internal/query"
	"ticklist/internal/store"
)

func listCmd(e *env) *cobra.Command {
	var status, category, tag, search, sortBy, order string
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks with optional filters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := listQuery(e.cfg, status, category, tag, search, sortBy, order)
			if err != nil {
				return err
			}
			tasks, err := e.api.SearchTasks(cmd.Context(), q)
			if err != nil {
				return err
			}
			if asJSON {
				b, err := export.ToJSON(tasks)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks, time.Now())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "all", "all, pending or completed")
	f.StringVar(&category, "category", "", "only tasks in this category")
	f.StringVar(&tag, "tag", "", "only tasks carrying this tag")
	f.StringVarP(&search, "search", "s", "", "case-insensitive text search")
	f.StringVar(&sortBy, "sort", "", "title, createdAt, updatedAt, dueDate or completed (default from config)")
	f.StringVar(&order, "order", "", "asc or desc (default from config)")
	f.BoolVar(&asJSON, "json", false, "print the tasks as a JSON export document")
	return cmd
}

func listQuery(cfg config.ClientConfig, status, category, tag, search, sortBy, order string) (client.ListQuery, error) {
	completed, err := query.ParseCompleted(status)
	if err != nil {
		return client.ListQuery{}, err
	}
	if sortBy == "" {
		sortBy = cfg.DefaultSort
	}
	field, err := query.ParseSortField(sortBy)
	if err != nil {
		return client.ListQuery{}, err
	}
	if order == "" {
		order = cfg.DefaultOrder
	}
	o, err := query.ParseOrder(order)
	if err != nil {
		return client.ListQuery{}, err
	}
	return client.ListQuery{
		Criteria: query.Criteria{Completed: completed, Category: category, Tag: tag, Search: search},
		Sort:     field,
		Order:    o,
	}, nil
}

func printTasks(w io.Writer, tasks []model.Task, now time.Time) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tST\tDUE\tCATEGORY\tTAGS\tTITLE")
	for _, t := range tasks {
		st := "open"
		switch {
		case t.Completed:
			st = "done"
		case t.IsOverdue(now):
			st = "late"
		}
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.UTC().Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, st, due, dash(t.Category), dash(strings.Join(t.Tags, ",")), t.Title)
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func addCmd(e *env) *cobra.Command {
	var d model.Draft
	cmd := &cobra.Command{
		Use:   "add <title...>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d.Title = strings.Join(args, " ")
			if err := model.ValidateDraft(d); err != nil {
				return err
			}
			t, err := e.api.CreateTask(cmd.Context(), d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q\n", t.ID, t.Title)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&d.Description, "description", "d", "", "longer description")
	f.StringVar(&d.DueDate, "due", "", "due date (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&d.Category, "category", "", "category")
	f.StringSliceVarP(&d.Tags, "tag", "t", nil, "tag (repeatable or comma separated)")
	return cmd
}

func editCmd(e *env) *cobra.Command {
	var title, description, due, category string
	var tags []string
	var done bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a task; an empty --due or --category clears it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			var p model.Patch
			if f.Changed("title") {
				p.Title = &title
			}
			if f.Changed("description") {
				p.Description = &description
			}
			if f.Changed("due") {
				p.DueDate = &due
			}
			if f.Changed("category") {
				p.Category = &category
			}
			if f.Changed("tag") {
				p.Tags = &tags
			}
			if f.Changed("done") {
				p.Completed = &done
			}
			if p.IsEmpty() {
				return errors.New("nothing to change; pass at least one field flag")
			}
			if err := model.ValidatePatch(p); err != nil {
				return err
			}
			t, err := e.api.UpdateTask(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %q\n", t.ID, t.Title)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "new title")
	f.StringVarP(&description, "description", "d", "", "new description")
	f.StringVar(&due, "due", "", "new due date")
	f.StringVar(&category, "category", "", "new category")
	f.StringSliceVarP(&tags, "tag", "t", nil, "replace the tags")
	f.BoolVar(&done, "done", false, "set the completed flag")
	return cmd
}

func toggleCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a task between open and done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := e.api.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			t, err := e.api.ToggleCompletion(cmd.Context(), cur.ID, !cur.Completed)
			if err != nil {
				return err
			}
			state := "open"
			if t.Completed {
				state = "done"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%q is now %s\n", t.Title, state)
			return nil
		},
	}
}

// heldClock never fires timers: rm closes the undo window itself so the process cannot exit
// while a timer-driven delete is still in flight.
type heldClock struct{ store.RealClock }

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }

func (heldClock) AfterFunc(time.Duration, func()) store.Timer { return heldTimer{} }

func rmCmd(e *env) *cobra.Command {
	var noUndo bool
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task, with a short window to undo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			window := e.cfg.UndoWindow()
			s := store.New(e.api, store.Options{Clock: heldClock{}, UndoWindow: window, Logger: e.logger})
			if err := s.Load(ctx); err != nil {
				return err
			}
			if err := s.Delete(ctx, args[0]); err != nil {
				return err
			}
			t, _, _ := s.PendingDelete()
			w := cmd.OutOrStdout()
			if noUndo || window <= 0 {
				if err := s.Flush(ctx); err != nil {
					return err
				}
				fmt.Fprintf(w, "Deleted %q\n", t.Title)
				return nil
			}

			fmt.Fprintf(w, "Deleting %q in %s. Press Enter to undo.\n", t.Title, window)
			undo := make(chan struct{}, 1)
			go func() {
				if _, err := e.stdin.ReadString('\n'); err == nil {
					undo <- struct{}{}
				}
			}()

			timer := time.NewTimer(window)
			defer timer.Stop()
			select {
			case <-undo:
				if s.UndoDelete() {
					fmt.Fprintf(w, "Kept %q\n", t.Title)
					return nil
				}
			case <-timer.C:
			case <-ctx.Done():
				s.UndoDelete()
				return ctx.Err()
			}
			if err := s.Flush(ctx); err != nil {
				return err
			}
			fmt.Fprintf(w, "Deleted %q\n", t.Title)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&noUndo, "yes", "y", false, "delete immediately without the undo window")
	return cmd
}

func undoWindowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "undo-window [seconds]",
		Short: "Show or set how long deletions can be undone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", e.cfg.UndoWindow())
				return nil
			}
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 || n > 300 {
				return fmt.Errorf("undo window must be between 1 and 300 seconds, got %q", args[0])
			}
			e.cfg.UndoWindowSeconds = n
			if err := config.SaveClient(e.cfgPath, e.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Undo window set to %s\n", e.cfg.UndoWindow())
			return nil
		},
	}
}

func exportCmd(e *env) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download all tasks as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			d, err := e.api.ExportTasks(cmd.Context(), string(f))
			if err != nil {
				return err
			}
			if out == "-" {
				_, err := cmd.OutOrStdout().Write(d.Body)
				return err
			}
			if out == "" {
				name := d.Filename
				if name == "" {
					name = export.Filename(time.Now(), f)
				}
				out = filepath.Join(e.cfg.ExportDir, filepath.Base(name))
			}
			if err := os.WriteFile(out, d.Body, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, len(d.Body))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or csv")
	cmd.Flags().StringVarP(&out, "out", "o", "", `output file; "-" for stdout (default: export_dir/<server filename>)`)
	return cmd
}

func importCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Upload tasks from a JSON export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			// validated locally first for a readable error before anything is sent
			if _, err := export.FromJSON(data); err != nil {
				return err
			}
			created, err := e.api.ImportTasks(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tasks\n", len(created))
			return nil
		},
	}
}

func statsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count tasks by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.api.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total %d  pending %d  completed %d  overdue %d\n", s.Total, s.Pending, s.Completed, s.Overdue)
			return nil
		},
	}
}

func tagsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags by usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := e.api.Tags(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			for _, t := range tags {
				fmt.Fprintf(tw, "%s\t%d\n", t.Name, t.UsageCount)
			}
			return tw.Flush()
		},
	}
}
