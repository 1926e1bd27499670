package thread

import (
	"sync"
)

type listener struct {
	id uint64
	fn func(id string)
}

// Manager owns the thread state of one conversation. The transition
// Ephemeral -> Bound happens at most once; a bound id is never replaced.
type Manager struct {
	mu        sync.RWMutex
	state     State
	listeners []listener
	nextID    uint64
}

// NewManager creates a manager in the given initial state. A nil state is
// treated as Ephemeral.
func NewManager(initial State) *Manager {
	if initial == nil {
		initial = Ephemeral{}
	}
	return &Manager{state: initial}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ThreadID returns the bound id, if any.
func (m *Manager) ThreadID() (string, bool) {
	return m.State().ThreadID()
}

// Check reports whether adopting id would conflict with the current binding.
func (m *Manager) Check(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return check(m.state, id)
}

func check(state State, id string) error {
	if id == "" {
		return nil
	}
	bound, ok := state.ThreadID()
	if ok && bound != id {
		return &IdentityConflictError{Bound: bound, Received: id}
	}
	return nil
}

// Adopt binds the conversation to id. It returns true only for the
// Ephemeral -> Bound transition. Adopting the bound id again, or an empty id,
// is a no-op; a different id returns an *IdentityConflictError and leaves the
// state unchanged. Listeners run after the manager's lock is released.
func (m *Manager) Adopt(id string) (bool, error) {
	m.mu.Lock()
	if err := check(m.state, id); err != nil {
		m.mu.Unlock()
		return false, err
	}
	if _, ok := m.state.ThreadID(); ok || id == "" {
		m.mu.Unlock()
		return false, nil
	}

	m.state = Bound{ID: id}
	listeners := make([]listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.fn(id)
	}
	return true, nil
}

// OnBound registers fn to be called when the conversation becomes bound.
// It returns a function that removes the registration.
func (m *Manager) OnBound(fn func(id string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}
