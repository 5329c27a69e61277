// Package task serves the task REST API and stores tasks per user.
package task

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticklist/internal/model"
)

var ErrNotFound = errors.New("task not found")

const defaultUser = "default"

// Repo is a user-scoped task repository. ForUser returns a view over the same storage
// scoped to another owner.
type Repo interface {
	Create(ctx context.Context, t model.Task) (model.Task, error)
	Get(ctx context.Context, id string) (model.Task, error)
	Update(ctx context.Context, id string, p model.Patch) (model.Task, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.Task, error)
	ForUser(userID string) Repo
	Ping(ctx context.Context) error
}

func newID() string {
	return uuid.NewString()
}

func scopeUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return defaultUser
	}
	return userID
}

// prepareCreate assigns a server id and fills the timestamps a caller left empty.
// Imported tasks keep theirs.
func prepareCreate(t *model.Task, now time.Time) {
	t.ID = newID()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.DueDate != nil {
		due := t.DueDate.UTC()
		t.DueDate = &due
	}
	model.Normalize(t)
}

func applyUpdate(t *model.Task, p model.Patch, now time.Time) {
	model.ApplyPatch(t, p)
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now.UTC()
	model.Normalize(t)
}

// newestFirst is the default list order: creation time descending, ties by id.
func newestFirst(tasks []model.Task) {
	slices.SortFunc(tasks, func(a, b model.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
