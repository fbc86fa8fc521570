package storage

import (
	"context"
	"sync"
	"time"

	"taskhub-api/domain"
)

// Memory keeps users and tasks in process memory. It is used for local runs
// and tests; contents are lost on restart.
type Memory struct {
	mu    sync.RWMutex
	users map[string]domain.User
	tasks []domain.Task
	now   func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]domain.User), now: time.Now}
}

func (m *Memory) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return domain.ErrConflict
		}
	}
	now := m.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *Memory) DeleteUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(m.users, id)
	return &u, nil
}

func (m *Memory) CreateTask(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tasks {
		if existing.ID == t.ID {
			return domain.ErrConflict
		}
	}
	now := m.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	m.tasks = append(m.tasks, *t)
	return nil
}

func (m *Memory) FindTasks(_ context.Context, owner string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) FindTask(_ context.Context, id, owner string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(id); i >= 0 && m.tasks[i].Owner == owner {
		t := m.tasks[i]
		return &t, nil
	}
	return nil, domain.ErrNotFound
}

func (m *Memory) UpdateTask(_ context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	patch.Apply(&m.tasks[i], m.now().UTC())
	t := m.tasks[i]
	return &t, nil
}

func (m *Memory) DeleteTask(_ context.Context, id, owner string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 || m.tasks[i].Owner != owner {
		return nil, domain.ErrNotFound
	}
	t := m.tasks[i]
	m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
	return &t, nil
}

func (m *Memory) indexOf(id string) int {
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			return i
		}
	}
	return -1
}
