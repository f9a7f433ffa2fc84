package par

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/gophdrive/internal/common"
)

// Registry stores PAR records. Take reads, checks and deletes a record in
// one transaction, so concurrent takers of one uid see it exactly once.
type Registry interface {
	Put(ctx context.Context, rec Record, ttl time.Duration) error
	Get(ctx context.Context, uid string) (Record, error)
	Take(ctx context.Context, uid string, check func(Record) error) (Record, error)
	Expired(ctx context.Context, now time.Time) ([]Record, error)
	Delete(ctx context.Context, uid string) error
	Close() error
}

var keyPrefix = []byte("par:")

func recordKey(uid string) []byte {
	return append(append([]byte{}, keyPrefix...), uid...)
}

// BadgerRegistry keeps records in badger. Entries carry a TTL, so records
// nobody closes or sweeps still disappear.
type BadgerRegistry struct {
	db *badger.DB
}

// OpenBadgerRegistry opens the registry at dir, or in memory when dir is
// empty.
func OpenBadgerRegistry(dir string) (*BadgerRegistry, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open PAR registry at %q: %w", dir, err)
	}
	return &BadgerRegistry{db: db}, nil
}

func (r *BadgerRegistry) Close() error {
	return r.db.Close()
}

func (r *BadgerRegistry) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode PAR %s: %w", rec.UID, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		key := recordKey(rec.UID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: PAR %s already registered", common.ErrPAR, rec.UID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(ttl))
	})
}

func (r *BadgerRegistry) Get(ctx context.Context, uid string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var rec Record
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, uid)
		return err
	})
	return rec, err
}

func (r *BadgerRegistry) Take(ctx context.Context, uid string, check func(Record) error) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var rec Record
	err := r.db.Update(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, uid)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(rec); err != nil {
				return err
			}
		}
		return txn.Delete(recordKey(uid))
	})
	if errors.Is(err, badger.ErrConflict) {
		return Record{}, fmt.Errorf("%w: PAR %s closed concurrently", common.ErrPAR, uid)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *BadgerRegistry) Expired(ctx context.Context, now time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode PAR %s: %w", it.Item().Key(), err)
			}
			if rec.Expired(now) {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

func (r *BadgerRegistry) Delete(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(uid))
	})
}

func readRecord(txn *badger.Txn, uid string) (Record, error) {
	item, err := txn.Get(recordKey(uid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("%w: unknown PAR %s", common.ErrPAR, uid)
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return Record{}, fmt.Errorf("decode PAR %s: %w", uid, err)
	}
	return rec, nil
}
