package task

import (
	"context"
	"sync"
	"time"

	"ticklist/internal/model"
)

type memoryState struct {
	mu    sync.RWMutex
	users map[string]map[string]model.Task
}

type MemoryRepo struct {
	state  *memoryState
	userID string
	now    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		state:  &memoryState{users: map[string]map[string]model.Task{}},
		userID: defaultUser,
		now:    time.Now,
	}
}

func (r *MemoryRepo) ForUser(userID string) Repo {
	return &MemoryRepo{state: r.state, userID: scopeUser(userID), now: r.now}
}

func (r *MemoryRepo) Ping(ctx context.Context) error { return ctx.Err() }

func (r *MemoryRepo) tasksLocked() map[string]model.Task {
	m, ok := r.state.users[r.userID]
	if !ok {
		m = map[string]model.Task{}
		r.state.users[r.userID] = m
	}
	return m
}

func (r *MemoryRepo) Create(ctx context.Context, t model.Task) (model.Task, error) {
	_ = ctx
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	t = t.Clone()
	prepareCreate(&t, r.now())
	r.tasksLocked()[t.ID] = t
	return t.Clone(), nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (model.Task, error) {
	_ = ctx
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	t, ok := r.state.users[r.userID][id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	_ = ctx
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	tasks := r.tasksLocked()
	t, ok := tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	t = t.Clone()
	applyUpdate(&t, p, r.now())
	tasks[id] = t
	return t.Clone(), nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	tasks := r.tasksLocked()
	if _, ok := tasks[id]; !ok {
		return ErrNotFound
	}
	delete(tasks, id)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]model.Task, error) {
	_ = ctx
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	tasks := r.state.users[r.userID]
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Clone())
	}
	newestFirst(out)
	return out, nil
}
