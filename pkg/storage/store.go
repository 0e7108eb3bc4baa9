// Package storage persists the optimistic layer across restarts in a local
// pebble database. Records are JSON-encoded and address-scoped.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ohartl/rwadex/pkg/model"
)

type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveAction writes one action, overwriting any previous version under the
// same localId.
func (s *Store) SaveAction(owner common.Address, a model.OptimisticAction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	if err := s.db.Set(actionKey(owner, a.LocalID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

// LoadActions returns every persisted action for the owner, unordered.
func (s *Store) LoadActions(owner common.Address) ([]model.OptimisticAction, error) {
	prefix := actionPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var actions []model.OptimisticAction
	for iter.First(); iter.Valid(); iter.Next() {
		var a model.OptimisticAction
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			continue // skip corrupt entries
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// SaveNotification writes one notification under its insertion sequence.
func (s *Store) SaveNotification(owner common.Address, seq uint64, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.db.Set(notificationKey(owner, seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// StoredNotification pairs a notification with its insertion sequence so
// in-place updates land back under the same key.
type StoredNotification struct {
	Seq  uint64
	Note model.Notification
}

// LoadNotifications returns the owner's notifications in insertion order,
// oldest first.
func (s *Store) LoadNotifications(owner common.Address) ([]StoredNotification, error) {
	prefix := notificationPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var notes []StoredNotification
	for iter.First(); iter.Valid(); iter.Next() {
		var n model.Notification
		if err := json.Unmarshal(iter.Value(), &n); err != nil {
			continue
		}
		key := iter.Key()
		if len(key) < 8 {
			continue
		}
		notes = append(notes, StoredNotification{
			Seq:  binary.BigEndian.Uint64(key[len(key)-8:]),
			Note: n,
		})
	}
	return notes, nil
}
