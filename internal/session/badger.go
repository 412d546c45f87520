package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const badgerKeyPrefix = "session:"

// BadgerStore persists sessions in a local BadgerDB directory. Entries carry
// a TTL matching the session expiry so Badger drops them on its own.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a store in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger session store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) Get(_ context.Context, id string) (*Session, error) {
	var s Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *BadgerStore) Put(_ context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(badgerKeyPrefix+s.ID), data)
		if !s.ExpiresAt.IsZero() {
			ttl := time.Until(s.ExpiresAt)
			if ttl <= 0 {
				ttl = time.Second
			}
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *BadgerStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(badgerKeyPrefix + id))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

func (b *BadgerStore) List(_ context.Context) ([]*Session, error) {
	var out []*Session
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var s Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				continue
			}
			out = append(out, &s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}
