package tui

import (
	"fmt"
	"strings"

	"ticklist/internal/model"
)

const (
	fieldTitle = iota
	fieldDescription
	fieldDue
	fieldCategory
	fieldTags
	fieldCount
)

var fieldLabels = [fieldCount]string{
	"title",
	"description",
	"due date (YYYY-MM-DD)",
	"category",
	"tags (comma separated)",
}

// form edits one task field at a time through the shared text input.
type form struct {
	editing string
	values  [fieldCount]string
	index   int
}

func newForm(t *model.Task) *form {
	f := &form{}
	if t == nil {
		return f
	}
	f.editing = t.ID
	f.values[fieldTitle] = t.Title
	f.values[fieldDescription] = t.Description
	if t.DueDate != nil {
		f.values[fieldDue] = t.DueDate.UTC().Format("2006-01-02")
	}
	f.values[fieldCategory] = t.Category
	f.values[fieldTags] = strings.Join(t.Tags, ", ")
	return f
}

func (f *form) label() string { return fieldLabels[f.index] }

func (f *form) value() string { return f.values[f.index] }

func (f *form) set(v string) { f.values[f.index] = v }

func (f *form) last() bool { return f.index == fieldCount-1 }

func (f *form) move(delta int) {
	f.index = (f.index + delta + fieldCount) % fieldCount
}

func (f *form) prompt() string {
	verb := "New task"
	if f.editing != "" {
		verb = "Edit task"
	}
	return fmt.Sprintf("%s: %s (field %d of %d). Enter to advance, tab to move, esc to cancel.",
		verb, f.label(), f.index+1, fieldCount)
}

func (f *form) draft() model.Draft {
	return model.Draft{
		Title:       f.values[fieldTitle],
		Description: strings.TrimSpace(f.values[fieldDescription]),
		DueDate:     strings.TrimSpace(f.values[fieldDue]),
		Category:    f.values[fieldCategory],
		Tags:        splitTags(f.values[fieldTags]),
	}
}

// patch sends every field so that emptied fields are cleared on the server.
func (f *form) patch() model.Patch {
	d := f.draft()
	return model.Patch{
		Title:       &d.Title,
		Description: &d.Description,
		DueDate:     &d.DueDate,
		Category:    &d.Category,
		Tags:        &d.Tags,
	}
}

func splitTags(s string) []string {
	tags := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}
