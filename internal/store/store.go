// Package store keeps the client-side task list. Mutations are applied locally first and
// reconciled with the remote service afterwards; deletions sit in a one-slot undo buffer for a
// short window before the remote delete is sent.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"ticklist/internal/export"
	"ticklist/internal/model"
	"ticklist/internal/query"
)

const (
	DefaultUndoWindow    = 5 * time.Second
	DefaultDeleteTimeout = 30 * time.Second
)

var (
	ErrNotFound = errors.New("task not found")
	ErrClosed   = errors.New("store closed")
)

// Remote is the slice of the task API the store needs.
type Remote interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	CreateTask(ctx context.Context, d model.Draft) (model.Task, error)
	UpdateTask(ctx context.Context, id string, p model.Patch) (model.Task, error)
	ToggleCompletion(ctx context.Context, id string, completed bool) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

type Options struct {
	Clock      Clock
	UndoWindow time.Duration
	Logger     *log.Logger
	// OnChange runs after every state change, outside the store lock.
	OnChange func()
	// DeleteTimeout bounds the remote delete sent when the undo window closes.
	DeleteTimeout time.Duration
}

type Store struct {
	remote Remote
	clock  Clock
	window time.Duration
	delTTL time.Duration
	logger *log.Logger
	notify func()

	mu      sync.Mutex
	tasks   []model.Task
	pending *pendingDelete
	lastErr string
	closed  bool
	// creating holds the temp ids of creates still in flight. A true value means the task
	// was deleted meanwhile and the server copy must be removed once its id is known.
	creating map[string]bool
}

func New(remote Remote, opts Options) *Store {
	s := &Store{
		remote: remote,
		clock:  opts.Clock,
		window: opts.UndoWindow,
		delTTL: opts.DeleteTimeout,
		logger: opts.Logger,
		notify: opts.OnChange,

		creating: make(map[string]bool),
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.window <= 0 {
		s.window = DefaultUndoWindow
	}
	if s.delTTL <= 0 {
		s.delTTL = DefaultDeleteTimeout
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	return s
}

// Load replaces the list with the remote one. On failure the current list is kept.
func (s *Store) Load(ctx context.Context) error {
	tasks, err := s.remote.ListTasks(ctx)
	if err != nil {
		s.fail("load", err)
		return err
	}

	s.mu.Lock()
	if s.pending != nil {
		tasks = slices.DeleteFunc(tasks, func(t model.Task) bool { return t.ID == s.pending.task.ID })
	}
	s.tasks = tasks
	s.mu.Unlock()
	s.changed()
	return nil
}

func (s *Store) Create(ctx context.Context, d model.Draft) (model.Task, error) {
	if err := model.ValidateDraft(d); err != nil {
		return model.Task{}, err
	}

	tempID := model.NewTempID()
	optimistic := model.NewTask(tempID, d, s.clock.Now())

	s.mu.Lock()
	s.tasks = slices.Insert(s.tasks, 0, optimistic)
	s.creating[tempID] = false
	s.mu.Unlock()
	s.changed()

	created, err := s.remote.CreateTask(ctx, d)
	if err != nil {
		s.mu.Lock()
		s.tasks = slices.DeleteFunc(s.tasks, func(t model.Task) bool { return t.ID == tempID })
		delete(s.creating, tempID)
		s.mu.Unlock()
		s.fail("create", err)
		return model.Task{}, err
	}

	s.mu.Lock()
	orphaned := s.creating[tempID]
	delete(s.creating, tempID)
	if i := s.indexLocked(tempID); i >= 0 {
		s.tasks[i] = created
	} else if s.pending != nil && s.pending.task.ID == tempID {
		// deleted while the create was in flight; the deferred delete must target the real id
		s.pending.task = created
	}
	s.mu.Unlock()
	s.changed()

	if orphaned {
		// the undo window closed before the server id was known
		_ = s.sendDelete(ctx, created)
	}
	return created.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	if err := model.ValidatePatch(p); err != nil {
		return model.Task{}, err
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return model.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t := s.tasks[i].Clone()
	model.ApplyPatch(&t, p)
	s.touch(&t)
	s.tasks[i] = t
	s.mu.Unlock()
	s.changed()

	updated, err := s.remote.UpdateTask(ctx, id, p)
	return s.reconcile(ctx, "update", updated, err)
}

// ToggleCompletion flips the completed flag and sends the new value.
func (s *Store) ToggleCompletion(ctx context.Context, id string) (model.Task, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return model.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	completed := !s.tasks[i].Completed
	s.tasks[i].Completed = completed
	s.touch(&s.tasks[i])
	s.mu.Unlock()
	s.changed()

	updated, err := s.remote.ToggleCompletion(ctx, id, completed)
	return s.reconcile(ctx, "toggle", updated, err)
}

// reconcile swaps in the server copy, or throws away unconfirmed local state by reloading.
func (s *Store) reconcile(ctx context.Context, op string, updated model.Task, err error) (model.Task, error) {
	if err != nil {
		s.fail(op, err)
		s.reload(ctx)
		return model.Task{}, err
	}
	s.mu.Lock()
	if i := s.indexLocked(updated.ID); i >= 0 {
		s.tasks[i] = updated
	}
	s.mu.Unlock()
	s.changed()
	return updated.Clone(), nil
}

func (s *Store) Tasks() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

func (s *Store) Get(id string) (model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.tasks[i].Clone(), true
	}
	return model.Task{}, false
}

// View filters and sorts the current list.
func (s *Store) View(c query.Criteria, field query.SortField, order query.Order) []model.Task {
	return query.Apply(s.Tasks(), c, field, order)
}

func (s *Store) Stats(now time.Time) query.StatusCounts {
	return query.CountByStatus(s.Tasks(), now)
}

// Export encodes the list as it is in memory, confirmed by the server or not.
func (s *Store) Export(f export.Format) ([]byte, error) {
	return export.Encode(s.Tasks(), f)
}

func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
	s.changed()
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.tasks, func(t model.Task) bool { return t.ID == id })
}

func (s *Store) touch(t *model.Task) {
	now := s.clock.Now()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}

func (s *Store) fail(op string, err error) {
	s.logger.Printf("[store] %s failed: %v", op, err)
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.changed()
}

// reload is the compensating action after a failed mutation. Its own failure is already
// recorded by Load.
func (s *Store) reload(ctx context.Context) {
	_ = s.Load(ctx)
}

func (s *Store) changed() {
	if s.notify != nil {
		s.notify()
	}
}
