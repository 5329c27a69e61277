package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticklist/internal/model"
)

var base = time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

func at(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

func fixtures() []model.Task {
	due := at(48)
	past := at(-24)
	return []model.Task{
		{ID: "1", Title: "buy Milk", Category: "home", Tags: []string{"errand"}, CreatedAt: at(2), UpdatedAt: at(2)},
		{ID: "2", Title: "File taxes", Description: "before the deadline", Category: "admin", Completed: true, Tags: []string{"money"}, CreatedAt: at(1), UpdatedAt: at(5), DueDate: &past},
		{ID: "3", Title: "apple pie", Category: "home", Tags: []string{"baking", "errand"}, CreatedAt: at(3), UpdatedAt: at(3), DueDate: &due},
		{ID: "4", Title: "Call mum", Tags: []string{}, CreatedAt: at(0), UpdatedAt: at(0), DueDate: &past},
	}
}

func ids(ts []model.Task) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name string
		c    Criteria
		want []string
	}{
		{name: "zero criteria keeps everything", c: Criteria{}, want: []string{"1", "2", "3", "4"}},
		{name: "completed", c: Criteria{Completed: &yes}, want: []string{"2"}},
		{name: "pending", c: Criteria{Completed: &no}, want: []string{"1", "3", "4"}},
		{name: "category", c: Criteria{Category: "home"}, want: []string{"1", "3"}},
		{name: "tag", c: Criteria{Tag: "errand"}, want: []string{"1", "3"}},
		{name: "search title case-insensitive", c: Criteria{Search: "MILK"}, want: []string{"1"}},
		{name: "search description", c: Criteria{Search: "deadline"}, want: []string{"2"}},
		{name: "search tag", c: Criteria{Search: "bak"}, want: []string{"3"}},
		{name: "search category", c: Criteria{Search: "adm"}, want: []string{"2"}},
		{name: "criteria are and-combined", c: Criteria{Category: "home", Tag: "baking"}, want: []string{"3"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ids(Filter(fixtures(), tc.c)))
		})
	}
}

func TestSort(t *testing.T) {
	tests := []struct {
		field SortField
		order Order
		want  []string
	}{
		{SortTitle, Asc, []string{"3", "1", "4", "2"}},
		{SortTitle, Desc, []string{"2", "4", "1", "3"}},
		{SortCreatedAt, Asc, []string{"4", "2", "1", "3"}},
		{SortUpdatedAt, Desc, []string{"2", "3", "1", "4"}},
		{SortDueDate, Asc, []string{"1", "2", "4", "3"}},
		{SortCompleted, Asc, []string{"1", "3", "4", "2"}},
		{SortCompleted, Desc, []string{"2", "1", "3", "4"}},
	}
	for _, tc := range tests {
		t.Run(string(tc.field)+"_"+string(tc.order), func(t *testing.T) {
			assert.Equal(t, tc.want, ids(Sort(fixtures(), tc.field, tc.order)))
		})
	}
}

func TestSort_DoesNotMutateInput(t *testing.T) {
	in := fixtures()
	_ = Sort(in, SortTitle, Asc)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(in))
}

func TestApply_IsDeterministic(t *testing.T) {
	c := Criteria{Search: "e"}
	first := Apply(fixtures(), c, SortDueDate, Desc)
	for i := 0; i < 20; i++ {
		assert.Equal(t, ids(first), ids(Apply(fixtures(), c, SortDueDate, Desc)))
	}
}

func TestParsers(t *testing.T) {
	f, err := ParseSortField("due")
	require.NoError(t, err)
	assert.Equal(t, SortDueDate, f)
	_, err = ParseSortField("priority")
	assert.Error(t, err)

	o, err := ParseOrder("DESC")
	require.NoError(t, err)
	assert.Equal(t, Desc, o)

	c, err := ParseCompleted("pending")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, *c)
	c, err = ParseCompleted("all")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCountByStatus(t *testing.T) {
	got := CountByStatus(fixtures(), base)
	assert.Equal(t, StatusCounts{Total: 4, Completed: 1, Pending: 3, Overdue: 1}, got)
}

func TestTagsAndCategories(t *testing.T) {
	assert.Equal(t, []TagUsage{
		{Name: "errand", UsageCount: 2},
		{Name: "baking", UsageCount: 1},
		{Name: "money", UsageCount: 1},
	}, Tags(fixtures()))
	assert.Equal(t, []string{"admin", "home"}, Categories(fixtures()))
}
