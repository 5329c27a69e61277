// Package tui is the terminal front end of the task store.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"ticklist/internal/client"
	"ticklist/internal/config"
	"ticklist/internal/export"
	"ticklist/internal/model"
	"ticklist/internal/query"
	"ticklist/internal/store"
)

type mode int

const (
	modeList mode = iota
	modeForm
	modeSearch
)

// changedMsg is sent whenever the store reports a state change.
type changedMsg struct{}

// opMsg reports the outcome of a store call made off the event loop.
type opMsg struct {
	op  string
	err error
}

type tickMsg time.Time

var (
	completionFilters = []string{"all", "active", "completed"}
	sortFields        = []query.SortField{query.SortCreatedAt, query.SortUpdatedAt, query.SortDueDate, query.SortTitle, query.SortCompleted}
)

type Model struct {
	ctx       context.Context
	store     *store.Store
	keys      config.Keymap
	exportDir string
	now       func() time.Time

	cursor    int
	mode      mode
	input     textinput.Model
	form      *form
	status    string
	filter    int
	search    string
	sortField query.SortField
	sortOrder query.Order
	width     int
	loading   bool
	quitting  bool
}

func New(ctx context.Context, s *store.Store, cfg config.ClientConfig) Model {
	ti := textinput.New()
	ti.CharLimit = model.MaxDescriptionLen
	ti.Width = 50

	field, err := query.ParseSortField(cfg.DefaultSort)
	if err != nil {
		field = query.SortCreatedAt
	}
	order, err := query.ParseOrder(cfg.DefaultOrder)
	if err != nil {
		order = query.Desc
	}
	dir := cfg.ExportDir
	if dir == "" {
		dir = "."
	}

	return Model{
		ctx:       ctx,
		store:     s,
		keys:      cfg.Keys,
		exportDir: dir,
		now:       time.Now,
		input:     ti,
		sortField: field,
		sortOrder: order,
		status:    fmt.Sprintf("Press '%s' to add a task, '%s' to quit.", cfg.Keys.Add, cfg.Keys.Quit),
	}
}

// Run builds a store on top of remote and drives it until the user quits. A deletion still
// inside its undo window is sent before Run returns.
func Run(ctx context.Context, remote store.Remote, cfg config.ClientConfig, logger *log.Logger) error {
	var prog atomic.Pointer[tea.Program]
	s := store.New(remote, store.Options{
		UndoWindow: cfg.UndoWindow(),
		Logger:     logger,
		OnChange: func() {
			// Change callbacks can fire from inside Update; Send must not block the loop.
			if p := prog.Load(); p != nil {
				go p.Send(changedMsg{})
			}
		},
	})

	p := tea.NewProgram(New(ctx, s, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	prog.Store(p)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		err = nil
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := s.Close(closeCtx); err == nil {
		err = cerr
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return m.do("load", m.store.Load)
}

// do runs a store call in a command and reports back with an opMsg.
func (m Model) do(op string, f func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opMsg{op: op, err: f(ctx)}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.mode {
		case modeForm:
			return m.updateForm(msg)
		case modeSearch:
			return m.updateSearch(msg)
		}
		return m.updateList(msg.String())
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-20, 20)
	case opMsg:
		return m.finish(msg)
	case tickMsg:
		if _, _, ok := m.store.PendingDelete(); ok {
			return m, tick()
		}
	case changedMsg:
		m.cursor = clampCursor(m.cursor, len(m.visible()))
	}
	return m, nil
}

func (m Model) finish(msg opMsg) (tea.Model, tea.Cmd) {
	if msg.op == "load" {
		m.loading = false
	}
	m.cursor = clampCursor(m.cursor, len(m.visible()))
	if msg.err != nil {
		m.status = describeErr(msg.op, msg.err)
		return m, nil
	}
	switch msg.op {
	case "load":
		m.status = fmt.Sprintf("Loaded %d tasks", len(m.store.Tasks()))
	case "create":
		m.status = "Added task"
	case "update":
		m.status = "Saved task"
	case "toggle":
		m.status = "Toggled task"
	case "delete":
		if t, _, ok := m.store.PendingDelete(); ok {
			m.status = fmt.Sprintf("Deleted %q, press '%s' to undo", t.Title, m.keys.Undo)
			return m, tick()
		}
	}
	return m, nil
}

func describeErr(op string, err error) string {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case client.IsAuthError(err):
		return "Not signed in or session expired; run `ticklist login`"
	case errors.Is(err, client.ErrNetwork):
		return "Cannot reach the task server: " + err.Error()
	}
	return fmt.Sprintf("%s failed: %v", op, err)
}

func (m Model) updateList(key string) (tea.Model, tea.Cmd) {
	tasks := m.visible()
	switch key {
	case "ctrl+c", m.keys.Quit:
		m.quitting = true
		return m, tea.Quit
	case m.keys.Down, "down":
		m.cursor = clampCursor(m.cursor+1, len(tasks))
	case m.keys.Up, "up":
		m.cursor = clampCursor(m.cursor-1, len(tasks))
	case m.keys.Add:
		m.form = newForm(nil)
		return m.enterForm()
	case m.keys.Edit:
		if len(tasks) == 0 {
			m.status = "No task to edit"
			return m, nil
		}
		t := tasks[m.cursor]
		m.form = newForm(&t)
		return m.enterForm()
	case m.keys.Toggle:
		if len(tasks) == 0 {
			return m, nil
		}
		id := tasks[m.cursor].ID
		if model.IsTemporaryID(id) {
			m.status = "Task is still being saved"
			return m, nil
		}
		return m, m.do("toggle", func(ctx context.Context) error {
			_, err := m.store.ToggleCompletion(ctx, id)
			return err
		})
	case m.keys.Delete:
		if len(tasks) == 0 {
			return m, nil
		}
		id := tasks[m.cursor].ID
		if model.IsTemporaryID(id) {
			m.status = "Task is still being saved"
			return m, nil
		}
		return m, m.do("delete", func(ctx context.Context) error {
			return m.store.Delete(ctx, id)
		})
	case m.keys.Undo:
		if m.store.UndoDelete() {
			m.status = "Restored task"
			m.cursor = 0
		} else {
			m.status = "Nothing to undo"
		}
	case m.keys.Search:
		m.mode = modeSearch
		m.input.SetValue(m.search)
		m.input.Placeholder = "search title, description, category, tags"
		m.input.Focus()
		m.status = "Search: enter to apply, esc to clear"
	case m.keys.Filter:
		m.filter = (m.filter + 1) % len(completionFilters)
		m.cursor = 0
		m.status = "Showing " + completionFilters[m.filter] + " tasks"
	case m.keys.Sort:
		m.sortField = nextSortField(m.sortField)
		m.status = "Sorted by " + string(m.sortField)
	case m.keys.Order:
		if m.sortOrder == query.Asc {
			m.sortOrder = query.Desc
		} else {
			m.sortOrder = query.Asc
		}
		m.status = "Order " + string(m.sortOrder)
	case m.keys.Export:
		m.status = m.export()
	case m.keys.Refresh:
		m.loading = true
		m.status = "Refreshing..."
		return m, m.do("load", m.store.Load)
	case m.keys.Cancel:
		m.store.ClearError()
		m.status = ""
	}
	return m, nil
}

func (m Model) enterForm() (tea.Model, tea.Cmd) {
	m.mode = modeForm
	m.input.SetValue(m.form.value())
	m.input.Placeholder = m.form.label()
	m.input.Focus()
	m.status = m.form.prompt()
	return m, nil
}

func (m Model) leaveInput(status string) Model {
	m.mode = modeList
	m.form = nil
	m.input.SetValue("")
	m.input.Blur()
	m.status = status
	return m
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case m.keys.Cancel, "esc":
		return m.leaveInput("Cancelled"), nil
	case "tab", "down":
		m.form.set(m.input.Value())
		m.form.move(1)
	case "shift+tab", "up":
		m.form.set(m.input.Value())
		m.form.move(-1)
	case m.keys.Confirm, "enter":
		m.form.set(m.input.Value())
		if !m.form.last() {
			m.form.move(1)
			break
		}
		return m.submitForm()
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	m.input.SetValue(m.form.value())
	m.input.Placeholder = m.form.label()
	m.status = m.form.prompt()
	return m, nil
}

func (m Model) submitForm() (tea.Model, tea.Cmd) {
	f := m.form
	if f.editing == "" {
		d := f.draft()
		if err := model.ValidateDraft(d); err != nil {
			m.status = err.Error()
			return m, nil
		}
		m = m.leaveInput("Saving...")
		m.cursor = 0
		return m, m.do("create", func(ctx context.Context) error {
			_, err := m.store.Create(ctx, d)
			return err
		})
	}

	id, p := f.editing, f.patch()
	if err := model.ValidatePatch(p); err != nil {
		m.status = err.Error()
		return m, nil
	}
	m = m.leaveInput("Saving...")
	return m, m.do("update", func(ctx context.Context) error {
		_, err := m.store.Update(ctx, id, p)
		return err
	})
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case m.keys.Cancel, "esc":
		m.search = ""
		m.cursor = 0
		return m.leaveInput("Search cleared"), nil
	case m.keys.Confirm, "enter":
		m.search = strings.TrimSpace(m.input.Value())
		m.cursor = 0
		if m.search == "" {
			return m.leaveInput("Search cleared"), nil
		}
		return m.leaveInput(fmt.Sprintf("Searching %q", m.search)), nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// export writes the list as it stands, in both formats, to the export directory.
func (m Model) export() string {
	var written []string
	for _, f := range []export.Format{export.FormatJSON, export.FormatCSV} {
		data, err := m.store.Export(f)
		if err != nil {
			return fmt.Sprintf("export failed: %v", err)
		}
		path := filepath.Join(m.exportDir, export.Filename(m.now(), f))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Sprintf("export failed: %v", err)
		}
		written = append(written, path)
	}
	return "Exported " + strings.Join(written, ", ")
}

func (m Model) criteria() query.Criteria {
	c := query.Criteria{Search: m.search}
	switch completionFilters[m.filter] {
	case "active":
		c.Completed = new(bool)
	case "completed":
		done := true
		c.Completed = &done
	}
	return c
}

func (m Model) visible() []model.Task {
	return m.store.View(m.criteria(), m.sortField, m.sortOrder)
}

func nextSortField(cur query.SortField) query.SortField {
	for i, f := range sortFields {
		if f == cur {
			return sortFields[(i+1)%len(sortFields)]
		}
	}
	return sortFields[0]
}

func clampCursor(cur, n int) int {
	if n <= 0 || cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
