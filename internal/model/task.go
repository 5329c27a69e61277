package model

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
	MaxCategoryLen    = 50
	MaxTags           = 10
	MaxTagLen         = 30

	tempIDPrefix = "temp-"
)

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DueDate     *time.Time `json:"dueDate"`
	Category    string     `json:"category,omitempty"`
	Tags        []string   `json:"tags"`
}

// Draft is the payload for creating a task.
type Draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Patch represents a partial update.
// nil pointer => "no change"
// empty string for DueDate/Category => clear
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil &&
		p.Category == nil && p.Tags == nil && p.Completed == nil
}

func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// NewTask builds a task from an already validated draft.
func NewTask(id string, d Draft, now time.Time) Task {
	t := Task{
		ID:          id,
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		Category:    strings.TrimSpace(d.Category),
		Tags:        cleanTags(d.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if due, ok := parseDue(d.DueDate); ok {
		t.DueDate = &due
	}
	return t
}

// ApplyPatch merges p into t. It does not touch UpdatedAt.
func ApplyPatch(t *Task, p Patch) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.DueDate != nil {
		if due, ok := parseDue(*p.DueDate); ok {
			t.DueDate = &due
		} else {
			t.DueDate = nil
		}
	}
	if p.Category != nil {
		t.Category = strings.TrimSpace(*p.Category)
	}
	if p.Tags != nil {
		t.Tags = cleanTags(*p.Tags)
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}

// Normalize fills in the zero values that must never reach the wire.
func Normalize(t *Task) {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		t.UpdatedAt = t.CreatedAt
	}
}

func (t Task) Clone() Task {
	c := t
	c.Tags = slices.Clone(t.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	return c
}

func (t Task) HasTag(tag string) bool {
	return slices.Contains(t.Tags, tag)
}

// IsOverdue reports whether an open task's due date has passed.
func (t Task) IsOverdue(now time.Time) bool {
	return !t.Completed && t.DueDate != nil && t.DueDate.Before(now)
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

var dueLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"}

// ParseDue accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDue(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dueLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseDue(s string) (time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, false
	}
	ts, err := ParseDue(s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
