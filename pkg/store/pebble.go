package store

import (
	"bytes"
	"errors"
	"fmt"

	"relaydb/pkg/logger"
	"relaydb/pkg/models"

	"github.com/cockroachdb/pebble"
)

var db *pebble.DB
var dbPath string

// Key layout:
//
//	user:<id>                                  -> User JSON
//	conv:<id>:meta                             -> Conversation JSON
//	conv:<convID>:msg:<pad(ts)>-<msgID>        -> message id (insertion order)
//	msg:<id>                                   -> latest Message JSON
//	reply:<parentID>:<pad(ts)>-<msgID>         -> message id (threading order)
//	idx:sender:<userID>:<msgID>                -> "" (cascade index)
//	idx:receiver:<userID>:<msgID>              -> "" (cascade index)
//	history:msg:<msgID>:<pad(ts)>-<histID>     -> MessageHistory JSON
//	notif:user:<userID>:<pad(ts)>-<notifID>    -> Notification JSON
//	notif:msg:<msgID>:<notifID>                -> primary notif key (cascade index)
//	notif:uniq:<userID>:<msgID>:<type>         -> notif id (uniqueness marker)
//
// The timestamp segment is zero-padded so lexicographic key order matches
// chronological order; the id suffix breaks ties deterministically.

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Path returns the directory the store was opened at.
func Path() string { return dbPath }

var errNotOpen = fmt.Errorf("pebble not opened; call store.Open first")

// padTS renders a nanosecond timestamp as a fixed-width sortable segment.
func padTS(ts int64) string {
	return fmt.Sprintf("%020d", ts)
}

// getRaw fetches a key, mapping pebble's not-found onto models.ErrNotFound.
func getRaw(key string) ([]byte, error) {
	if db == nil {
		return nil, errNotOpen
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

func setRaw(key string, value []byte) error {
	if db == nil {
		return errNotOpen
	}
	return db.Set([]byte(key), value, pebble.Sync)
}

// iterPrefix calls fn for every key with the given prefix, in key order.
// Returning a non-nil error from fn stops the scan.
func iterPrefix(prefix string, fn func(key string, value []byte) error) error {
	if db == nil {
		return errNotOpen
	}
	pfx := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		k := string(iter.Key())
		v := append([]byte(nil), iter.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(prefix string) []byte {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// ApplyBatch commits the given batch atomically.
func ApplyBatch(b *pebble.Batch) error {
	if db == nil {
		return errNotOpen
	}
	if err := db.Apply(b, pebble.Sync); err != nil {
		logger.Error("apply_batch_failed", "error", err)
		return err
	}
	batchApplies.Inc()
	return nil
}

// NewBatch returns a fresh write batch for callers composing atomic
// multi-key operations.
func NewBatch() *pebble.Batch { return new(pebble.Batch) }

// DBIter returns a raw Pebble iterator for low-level operations. Caller
// must close the iterator when done.
func DBIter() (*pebble.Iterator, error) {
	if db == nil {
		return nil, errNotOpen
	}
	return db.NewIter(&pebble.IterOptions{})
}

// DBSet writes a raw key into the DB. Low-level helper used by admin
// utilities and tests.
func DBSet(key, value []byte) error {
	if db == nil {
		return errNotOpen
	}
	return db.Set(key, value, pebble.Sync)
}

// DBGet reads a raw key from the DB. Low-level helper used by admin
// utilities and tests.
func DBGet(key string) ([]byte, error) { return getRaw(key) }

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, errNotOpen
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if prefix != "" && !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	return out, iter.Error()
}
