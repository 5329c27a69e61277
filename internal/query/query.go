// Package query holds the pure filter, sort and summary functions over task lists.
package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"ticklist/internal/model"
)

type SortField string

const (
	SortTitle     SortField = "title"
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
	SortDueDate   SortField = "dueDate"
	SortCompleted SortField = "completed"
)

type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Criteria are AND-combined; zero values are no-ops.
type Criteria struct {
	Completed *bool
	Category  string
	Tag       string
	Search    string
}

func (c Criteria) IsZero() bool {
	return c.Completed == nil && c.Category == "" && c.Tag == "" && c.Search == ""
}

func Filter(tasks []model.Task, c Criteria) []model.Task {
	search := strings.ToLower(strings.TrimSpace(c.Search))
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if c.Completed != nil && t.Completed != *c.Completed {
			continue
		}
		if c.Category != "" && t.Category != c.Category {
			continue
		}
		if c.Tag != "" && !t.HasTag(c.Tag) {
			continue
		}
		if search != "" && !matchesSearch(t, search) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesSearch(t model.Task, needle string) bool {
	if strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle) ||
		strings.Contains(strings.ToLower(t.Category), needle) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Sort returns a sorted copy. Desc negates the comparator; ties keep input order.
func Sort(tasks []model.Task, field SortField, order Order) []model.Task {
	out := slices.Clone(tasks)
	if out == nil {
		out = []model.Task{}
	}
	compare := comparator(field)
	if compare == nil {
		return out
	}
	if order == Desc {
		asc := compare
		compare = func(a, b model.Task) int { return -asc(a, b) }
	}
	slices.SortStableFunc(out, compare)
	return out
}

// Apply filters then sorts.
func Apply(tasks []model.Task, c Criteria, field SortField, order Order) []model.Task {
	return Sort(Filter(tasks, c), field, order)
}

func comparator(field SortField) func(a, b model.Task) int {
	switch field {
	case SortTitle:
		return func(a, b model.Task) int {
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		}
	case SortCreatedAt:
		return func(a, b model.Task) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case SortUpdatedAt:
		return func(a, b model.Task) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case SortDueDate:
		return func(a, b model.Task) int { return cmp.Compare(dueMillis(a), dueMillis(b)) }
	case SortCompleted:
		return func(a, b model.Task) int { return cmp.Compare(boolRank(a.Completed), boolRank(b.Completed)) }
	default:
		return nil
	}
}

// dueMillis treats a missing due date as the epoch, so open-ended tasks sort first ascending.
func dueMillis(t model.Task) int64 {
	if t.DueDate == nil {
		return 0
	}
	return t.DueDate.UnixMilli()
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ParseSortField(s string) (SortField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "createdat", "created", "created_at":
		return SortCreatedAt, nil
	case "title":
		return SortTitle, nil
	case "updatedat", "updated", "updated_at":
		return SortUpdatedAt, nil
	case "duedate", "due", "due_date":
		return SortDueDate, nil
	case "completed", "done":
		return SortCompleted, nil
	default:
		return "", fmt.Errorf("unknown sort field %q", s)
	}
}

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

// ParseCompleted maps a query value to a completion filter.
// "completed"/"true" and "pending"/"false" filter; "", "all" and "any" do not.
func ParseCompleted(s string) (*bool, error) {
	var v bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "any":
		return nil, nil
	case "1", "true", "yes", "completed", "done":
		v = true
	case "0", "false", "no", "pending", "open":
		v = false
	default:
		return nil, fmt.Errorf("unknown completion filter %q", s)
	}
	return &v, nil
}

type StatusCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
}

func CountByStatus(tasks []model.Task, now time.Time) StatusCounts {
	var s StatusCounts
	for _, t := range tasks {
		s.Total++
		if t.Completed {
			s.Completed++
			continue
		}
		s.Pending++
		if t.IsOverdue(now) {
			s.Overdue++
		}
	}
	return s
}

type TagUsage struct {
	Name       string `json:"name"`
	UsageCount int    `json:"usageCount"`
}

// Tags returns tag usage counts, most used first.
func Tags(tasks []model.Task) []TagUsage {
	counts := map[string]int{}
	for _, t := range tasks {
		for _, tag := range t.Tags {
			counts[tag]++
		}
	}
	out := make([]TagUsage, 0, len(counts))
	for name, n := range counts {
		out = append(out, TagUsage{Name: name, UsageCount: n})
	}
	slices.SortFunc(out, func(a, b TagUsage) int {
		if c := cmp.Compare(b.UsageCount, a.UsageCount); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func Categories(tasks []model.Task) []string {
	out := []string{}
	for _, t := range tasks {
		if t.Category != "" && !slices.Contains(out, t.Category) {
			out = append(out, t.Category)
		}
	}
	slices.Sort(out)
	return out
}
