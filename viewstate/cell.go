// Package viewstate holds the task a session is currently looking at.
package viewstate

import (
	"sync"

	"taskboard/domain"
)

// Cell is the shared "currently viewed task" slot of one session.
type Cell interface {
	Get() (domain.Task, bool)
	Set(domain.Task)
	Clear()
	Subscribe(func(domain.Task, bool)) (unsubscribe func())
}

// Memory is an in-process Cell. Readers always get a copy so they cannot
// mutate the snapshot behind the writer's back.
type Memory struct {
	mu        sync.RWMutex
	task      domain.Task
	set       bool
	nextID    int
	listeners map[int]func(domain.Task, bool)
}

// NewMemory returns an empty cell.
func NewMemory() *Memory {
	return &Memory{listeners: make(map[int]func(domain.Task, bool))}
}

// Get returns the current snapshot, or false when nothing is viewed.
func (m *Memory) Get() (domain.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return domain.Task{}, false
	}
	return m.task.Clone(), true
}

// ViewedID returns the id of the viewed task.
func (m *Memory) ViewedID() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.task.ID, m.set
}

// Set replaces the snapshot and notifies listeners.
func (m *Memory) Set(t domain.Task) {
	m.mu.Lock()
	m.task = t.Clone()
	m.set = true
	fns := m.snapshotListeners()
	m.mu.Unlock()
	for _, fn := range fns {
		fn(t.Clone(), true)
	}
}

// Clear empties the cell and notifies listeners.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.task = domain.Task{}
	m.set = false
	fns := m.snapshotListeners()
	m.mu.Unlock()
	for _, fn := range fns {
		fn(domain.Task{}, false)
	}
}

// Subscribe registers fn for every later Set or Clear.
func (m *Memory) Subscribe(fn func(domain.Task, bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Memory) snapshotListeners() []func(domain.Task, bool) {
	fns := make([]func(domain.Task, bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	return fns
}
