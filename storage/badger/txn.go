package badger

import (
	"bytes"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/storage"
)

// txn binds the per-entity stores to one badger transaction.
type txn struct {
	tx *badger.Txn
}

var _ storage.Tx = (*txn)(nil)

func (t *txn) Sessions() storage.SessionStore       { return sessionStore{t.tx} }
func (t *txn) Documents() storage.DocumentStore     { return documentStore{t.tx} }
func (t *txn) Chunks() storage.ChunkStore           { return chunkStore{t.tx} }
func (t *txn) Metadata() storage.MetadataStore      { return metadataStore{t.tx} }
func (t *txn) Queue() storage.QueueStore            { return queueStore{t.tx} }
func (t *txn) Audit() storage.AuditStore            { return auditStore{t.tx} }
func (t *txn) AccessLog() storage.AccessLogStore    { return accessLogStore{t.tx} }
func (t *txn) Checkpoints() storage.CheckpointStore { return checkpointStore{t.tx} }

// getRow reads and decodes the value stored at key.
// Returns storage.ErrNotFound if the key doesn't exist.
func getRow[T any](tx *badger.Txn, key []byte, decode func([]byte) (T, error)) (T, error) {
	var zero T
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return zero, storage.ErrNotFound
		}
		return zero, err
	}
	var out T
	err = item.Value(func(val []byte) error {
		var decodeErr error
		out, decodeErr = decode(val)
		return decodeErr
	})
	if err != nil {
		return zero, err
	}
	return out, nil
}

// exists reports whether key is present.
func exists(tx *badger.Txn, key []byte) (bool, error) {
	_, err := tx.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// deleteKey removes key, ignoring absence.
func deleteKey(tx *badger.Txn, key []byte) error {
	return tx.Delete(key)
}

// scanKeys walks the keys under prefix in order, starting strictly after
// the key prefix+after when after is non-empty. Values are not prefetched.
// fn returns false to stop.
func scanKeys(tx *badger.Txn, prefix []byte, after string, fn func(key []byte, item *badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	start := prefix
	var skip []byte
	if after != "" {
		skip = append(append([]byte{}, prefix...), after...)
		start = skip
	}

	for iter.Seek(start); iter.ValidForPrefix(prefix); iter.Next() {
		item := iter.Item()
		key := item.KeyCopy(nil)
		if skip != nil && bytes.Equal(key, skip) {
			continue
		}
		cont, err := fn(key, item)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// countKeys counts the keys under prefix with a key-only scan.
func countKeys(tx *badger.Txn, prefix []byte) (int64, error) {
	var n int64
	err := scanKeys(tx, prefix, "", func([]byte, *badger.Item) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// scanRows decodes every value under prefix in key order.
func scanRows[T any](tx *badger.Txn, prefix []byte, decode func([]byte) (T, error)) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var out []T
	for iter.Rewind(); iter.Valid(); iter.Next() {
		var row T
		err := iter.Item().Value(func(val []byte) error {
			var decodeErr error
			row, decodeErr = decode(val)
			return decodeErr
		})
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// indexedRows resolves every index key under prefix to its primary row,
// using the id after the final ':' of each index key.
func indexedRows[T any](tx *badger.Txn, prefix []byte, primary func(id string) []byte, decode func([]byte) (T, error)) ([]T, error) {
	var ids []string
	err := scanKeys(tx, prefix, "", func(key []byte, _ *badger.Item) (bool, error) {
		ids = append(ids, lastSegment(key))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		row, err := getRow(tx, primary(id), decode)
		if errors.Is(err, storage.ErrNotFound) {
			// dangling index entry
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
