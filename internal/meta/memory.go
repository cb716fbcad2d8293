package meta

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type entityKey struct {
	kind Kind
	id   int64
}

// Memory is an in-process Backend. It is used by tests and by the "memory"
// store driver.
type Memory struct {
	mu       sync.RWMutex
	nextID   map[Kind]int64
	entities map[entityKey]Entity
	attrs    map[entityKey]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		nextID:   map[Kind]int64{},
		entities: map[entityKey]Entity{},
		attrs:    map[entityKey]map[string][]byte{},
	}
}

func (m *Memory) Get(_ context.Context, kind Kind, id int64, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.attrs[entityKey{kind, id}][key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, kind Kind, id int64, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := entityKey{kind, id}
	slot := m.attrs[k]
	if slot == nil {
		slot = map[string][]byte{}
		m.attrs[k] = slot
	}
	v := make([]byte, len(value))
	copy(v, value)
	slot[key] = v
	return nil
}

func (m *Memory) Delete(_ context.Context, kind Kind, id int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attrs[entityKey{kind, id}], key)
	return nil
}

func (m *Memory) Entity(_ context.Context, kind Kind, id int64) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[entityKey{kind, id}]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) ListEntities(_ context.Context, kind Kind, subtype string) ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entity
	for k, e := range m.entities {
		if k.kind != kind {
			continue
		}
		if subtype != "" && e.Subtype != subtype {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateEntity stores e. A zero ID is assigned the next free id for the kind;
// an explicit ID is kept, which lets tests and imports reproduce legacy ids.
func (m *Memory) CreateEntity(_ context.Context, e Entity) (Entity, error) {
	if !e.Kind.Valid() {
		return Entity{}, fmt.Errorf("create entity: invalid kind %q", e.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID <= 0 {
		e.ID = m.nextID[e.Kind] + 1
	}
	k := entityKey{e.Kind, e.ID}
	if _, exists := m.entities[k]; exists {
		return Entity{}, fmt.Errorf("create entity: %s %d already exists", e.Kind, e.ID)
	}
	if e.ID > m.nextID[e.Kind] {
		m.nextID[e.Kind] = e.ID
	}
	m.entities[k] = e
	return e, nil
}

func (m *Memory) UpdateEntity(_ context.Context, e Entity) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := entityKey{e.Kind, e.ID}
	if _, ok := m.entities[k]; !ok {
		return Entity{}, ErrNotFound
	}
	m.entities[k] = e
	return e, nil
}

// DeleteEntity removes the record and all of its attributes.
func (m *Memory) DeleteEntity(_ context.Context, kind Kind, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := entityKey{kind, id}
	if _, ok := m.entities[k]; !ok {
		return ErrNotFound
	}
	delete(m.entities, k)
	delete(m.attrs, k)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
