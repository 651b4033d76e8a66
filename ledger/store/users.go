package store

import (
	"context"
	"sort"
	"strings"

	"github.com/warp/ledger-engine/auth"
)

// User persistence for the memory store. Kept in a separate map so the
// snapshot/rollback machinery in memory.go stays ledger-only; identity
// writes are single-record and need no unit.

func (m *Memory) ensureUsers() {
	if m.users == nil {
		m.users = make(map[string]auth.User)
	}
}

func (m *Memory) CreateUser(_ context.Context, u auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureUsers()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return auth.ErrUserExists
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (m *Memory) UpdateUser(_ context.Context, u auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; !ok {
		return auth.ErrUserNotFound
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) SearchUsers(_ context.Context, excludeID, filter string, limit int) ([]auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(filter)
	var result []auth.User
	for _, u := range m.users {
		if u.ID == excludeID {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(u.FirstName), needle) &&
			!strings.Contains(strings.ToLower(u.LastName), needle) {
			continue
		}
		result = append(result, u)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
