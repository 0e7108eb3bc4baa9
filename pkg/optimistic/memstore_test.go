package optimistic

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ohartl/rwadex/pkg/model"
	"github.com/ohartl/rwadex/pkg/storage"
)

// memStore is an in-memory ActionStore/NoteStore for tests.
type memStore struct {
	mu      sync.Mutex
	actions map[string]map[string]model.OptimisticAction
	notes   map[string]map[uint64]model.Notification
}

func newMemStore() *memStore {
	return &memStore{
		actions: make(map[string]map[string]model.OptimisticAction),
		notes:   make(map[string]map[uint64]model.Notification),
	}
}

func (m *memStore) SaveAction(owner common.Address, a model.OptimisticAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actions[owner.Hex()] == nil {
		m.actions[owner.Hex()] = make(map[string]model.OptimisticAction)
	}
	m.actions[owner.Hex()][a.LocalID] = a
	return nil
}

func (m *memStore) LoadActions(owner common.Address) ([]model.OptimisticAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OptimisticAction
	for _, a := range m.actions[owner.Hex()] {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) SaveNotification(owner common.Address, seq uint64, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notes[owner.Hex()] == nil {
		m.notes[owner.Hex()] = make(map[uint64]model.Notification)
	}
	m.notes[owner.Hex()][seq] = n
	return nil
}

func (m *memStore) LoadNotifications(owner common.Address) ([]storage.StoredNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.StoredNotification
	for seq, n := range m.notes[owner.Hex()] {
		out = append(out, storage.StoredNotification{Seq: seq, Note: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
