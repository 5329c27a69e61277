package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"ticklist/internal/model"
)

// pendingDelete is the single undo slot.
type pendingDelete struct {
	task     model.Task
	timer    Timer
	deadline time.Time
}

// Delete hides the task and arms the undo window. A deletion that was already pending is
// sent to the server right away instead of being dropped; its error, if any, is returned
// but the new deletion stays pending either way.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	task := s.tasks[i]
	s.tasks = slices.Delete(s.tasks, i, i+1)

	superseded := s.takePendingLocked()
	sendSuperseded := superseded != nil && s.claimDeleteLocked(superseded.task)
	p := &pendingDelete{task: task, deadline: s.clock.Now().Add(s.window)}
	p.timer = s.clock.AfterFunc(s.window, func() { s.expire(p) })
	s.pending = p
	s.mu.Unlock()
	s.changed()

	if sendSuperseded {
		return s.sendDelete(ctx, superseded.task)
	}
	return nil
}

// UndoDelete puts the pending task back at the head of the list. It reports false when
// nothing was pending, including when the window already closed.
func (s *Store) UndoDelete() bool {
	s.mu.Lock()
	p := s.takePendingLocked()
	if p == nil {
		s.mu.Unlock()
		return false
	}
	s.tasks = slices.Insert(s.tasks, 0, p.task)
	s.mu.Unlock()
	s.changed()
	return true
}

// PendingDelete returns the task waiting in the undo slot and when it will be deleted.
func (s *Store) PendingDelete() (model.Task, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return model.Task{}, time.Time{}, false
	}
	return s.pending.task.Clone(), s.pending.deadline, true
}

// Flush sends the pending delete now.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	p := s.takePendingLocked()
	send := p != nil && s.claimDeleteLocked(p.task)
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	s.changed()
	if !send {
		return nil
	}
	return s.sendDelete(ctx, p.task)
}

// Close flushes the pending delete and refuses further deletions.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}

// expire runs when the undo window closes. Whoever takes the slot first under the lock wins,
// so a racing UndoDelete or Flush means the timer does nothing.
func (s *Store) expire(p *pendingDelete) {
	s.mu.Lock()
	if s.pending != p {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	send := s.claimDeleteLocked(p.task)
	s.mu.Unlock()
	s.changed()
	if !send {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.delTTL)
	defer cancel()
	_ = s.sendDelete(ctx, p.task)
}

func (s *Store) takePendingLocked() *pendingDelete {
	p := s.pending
	if p == nil {
		return nil
	}
	p.timer.Stop()
	s.pending = nil
	return p
}

// claimDeleteLocked reports whether t can be deleted remotely now. A task still carrying its
// temp id is not on the server yet: if its create is in flight the delete is handed to Create,
// otherwise the create failed and there is nothing to remove.
func (s *Store) claimDeleteLocked(t model.Task) bool {
	if !model.IsTemporaryID(t.ID) {
		return true
	}
	if _, ok := s.creating[t.ID]; ok {
		s.creating[t.ID] = true
	}
	return false
}

// sendDelete issues the remote delete. On failure the list is reloaded so the task comes back.
func (s *Store) sendDelete(ctx context.Context, t model.Task) error {
	if err := s.remote.DeleteTask(ctx, t.ID); err != nil {
		s.fail("delete", err)
		s.reload(ctx)
		return err
	}
	s.logger.Printf("[store] deleted task %s", t.ID)
	return nil
}
