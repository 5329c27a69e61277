package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ticklist/internal/config"
	"ticklist/internal/model"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	doneStyle     = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	overdueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	metaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	undoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	now := m.now()
	var b strings.Builder

	stats := m.store.Stats(now)
	b.WriteString(titleStyle.Render("ticklist"))
	b.WriteString(metaStyle.Render(fmt.Sprintf("  %d total · %d open · %d done · %d overdue",
		stats.Total, stats.Pending, stats.Completed, stats.Overdue)))
	b.WriteString("\n")
	b.WriteString(metaStyle.Render(m.describeView()))
	b.WriteString("\n\n")

	tasks := m.visible()
	switch {
	case m.loading && len(tasks) == 0:
		b.WriteString("Loading...")
	case len(tasks) == 0 && stats.Total == 0:
		b.WriteString(fmt.Sprintf("No tasks yet. Press '%s' to add one.", m.keys.Add))
	case len(tasks) == 0:
		b.WriteString("No tasks match the current filter.")
	default:
		cursor := clampCursor(m.cursor, len(tasks))
		for i, t := range tasks {
			b.WriteString(renderRow(t, i == cursor && m.mode == modeList, now))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	if m.mode == modeForm && m.form != nil {
		b.WriteString(boxStyle.Render(m.renderForm()))
		b.WriteString("\n")
	}
	if m.mode != modeList {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	if t, deadline, ok := m.store.PendingDelete(); ok {
		left := max(deadline.Sub(now).Round(time.Second), 0)
		b.WriteString(undoStyle.Render(fmt.Sprintf("Deleted %q · '%s' to undo (%s)", t.Title, m.keys.Undo, left)))
		b.WriteString("\n")
	}
	if msg := m.store.LastError(); msg != "" {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %s ('%s' to dismiss)", msg, m.keys.Cancel)))
		b.WriteString("\n")
	}
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(metaStyle.Render(renderHelp(m.keys)))
	return b.String()
}

func (m Model) describeView() string {
	s := fmt.Sprintf("showing %s · sort %s %s", completionFilters[m.filter], m.sortField, m.sortOrder)
	if m.search != "" {
		s += fmt.Sprintf(" · search %q", m.search)
	}
	return s
}

func renderRow(t model.Task, selected bool, now time.Time) string {
	cursor := "  "
	if selected {
		cursor = "> "
	}
	check := "[ ]"
	if t.Completed {
		check = "[x]"
	}

	title := t.Title
	switch {
	case t.Completed:
		title = doneStyle.Render(title)
	case selected:
		title = selectedStyle.Render(title)
	}

	var meta []string
	if t.DueDate != nil {
		due := "due " + t.DueDate.UTC().Format("2006-01-02")
		if t.IsOverdue(now) {
			due = overdueStyle.Render(due + " overdue")
		}
		meta = append(meta, due)
	}
	if t.Category != "" {
		meta = append(meta, "@"+t.Category)
	}
	for _, tag := range t.Tags {
		meta = append(meta, "#"+tag)
	}
	if model.IsTemporaryID(t.ID) {
		meta = append(meta, "saving")
	}

	row := fmt.Sprintf("%s%s %s", cursor, check, title)
	if len(meta) > 0 {
		row += "  " + metaStyle.Render(strings.Join(meta, " "))
	}
	return row
}

func (m Model) renderForm() string {
	var b strings.Builder
	for i, label := range fieldLabels {
		prefix := " "
		if i == m.form.index {
			prefix = ">"
		}
		v := m.form.values[i]
		if strings.TrimSpace(v) == "" {
			v = "(empty)"
		}
		b.WriteString(fmt.Sprintf("%s %-22s : %s", prefix, label, v))
		if i < len(fieldLabels)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s add • %s edit • %s toggle • %s delete • %s undo • %s search • %s filter • %s sort • %s order • %s export • %s refresh • %s quit",
		k.Up, k.Down, k.Add, k.Edit, keyName(k.Toggle), k.Delete, k.Undo, k.Search, k.Filter, k.Sort, k.Order, k.Export, k.Refresh, k.Quit)
}

func keyName(k string) string {
	if k == " " {
		return "space"
	}
	return k
}
