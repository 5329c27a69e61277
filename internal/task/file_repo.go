package task

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ticklist/internal/model"
)

type fileState struct {
	Users map[string]map[string]model.Task `json:"users"`
}

func newFileState() fileState {
	return fileState{Users: map[string]map[string]model.Task{}}
}

type fileStore struct {
	mu   sync.RWMutex
	path string
	s    fileState
}

// FileRepo is a persistent task repository backed by one JSON document.
// It is user-scoped; call ForUser(userID) to get a scoped view.
type FileRepo struct {
	store  *fileStore
	userID string
	now    func() time.Time
}

func NewFileRepo(dataDir string) (*FileRepo, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	st := &fileStore{
		path: filepath.Join(dataDir, "tasks.json"),
		s:    newFileState(),
	}
	if err := st.load(); err != nil {
		return nil, err
	}
	return &FileRepo{store: st, userID: defaultUser, now: time.Now}, nil
}

func (s *fileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.s = newFileState()
			return nil
		}
		return err
	}

	var loaded fileState
	if err := json.Unmarshal(b, &loaded); err != nil {
		return err
	}
	if loaded.Users == nil {
		loaded.Users = map[string]map[string]model.Task{}
	}
	s.s = loaded
	return nil
}

// saveLocked replaces the document via rename.
func (s *fileStore) saveLocked() error {
	b, err := json.MarshalIndent(s.s, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (r *FileRepo) ForUser(userID string) Repo {
	return &FileRepo{store: r.store, userID: scopeUser(userID), now: r.now}
}

func (r *FileRepo) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(r.store.path))
	return err
}

func (r *FileRepo) userTasksLocked() map[string]model.Task {
	m, ok := r.store.s.Users[r.userID]
	if !ok || m == nil {
		m = map[string]model.Task{}
		r.store.s.Users[r.userID] = m
	}
	return m
}

func (r *FileRepo) Create(ctx context.Context, t model.Task) (model.Task, error) {
	_ = ctx
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	t = t.Clone()
	prepareCreate(&t, r.now())
	r.userTasksLocked()[t.ID] = t
	if err := r.store.saveLocked(); err != nil {
		return model.Task{}, err
	}
	return t.Clone(), nil
}

func (r *FileRepo) Get(ctx context.Context, id string) (model.Task, error) {
	_ = ctx
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	t, ok := r.store.s.Users[r.userID][id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	model.Normalize(&t)
	return t.Clone(), nil
}

func (r *FileRepo) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	_ = ctx
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tasks := r.userTasksLocked()
	t, ok := tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	t = t.Clone()
	applyUpdate(&t, p, r.now())
	tasks[id] = t
	if err := r.store.saveLocked(); err != nil {
		return model.Task{}, err
	}
	return t.Clone(), nil
}

func (r *FileRepo) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tasks := r.userTasksLocked()
	if _, ok := tasks[id]; !ok {
		return ErrNotFound
	}
	delete(tasks, id)
	return r.store.saveLocked()
}

func (r *FileRepo) List(ctx context.Context) ([]model.Task, error) {
	_ = ctx
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	tasks := r.store.s.Users[r.userID]
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		model.Normalize(&t)
		out = append(out, t.Clone())
	}
	newestFirst(out)
	return out, nil
}
