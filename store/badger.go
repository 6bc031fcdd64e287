package store

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
)

// BadgerStore persists records in an LSM-tree key-value store, keyed
// by 8-byte big-endian id. The write-optimized contrast to the
// memory-mapped B+-tree backend.
type BadgerStore struct {
	db  *badger.DB
	dir string
}

// NewBadgerStore opens a badger database rooted at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf(
			"badger: open %s: %w: %s", dir, ErrUnavailable, err,
		)
	}

	return &BadgerStore{db: db, dir: dir}, nil
}

// WriteBatch writes all records through badger's bulk write path.
func (s *BadgerStore) WriteBatch(records []ImageRecord) (uint64, error) {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, rec := range records {
		if err := wb.Set(recordKey(rec.ID), encodeRecord(rec)); err != nil {
			return 0, fmt.Errorf("badger: write id %d: %w", rec.ID, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("badger: flush batch: %w", err)
	}

	return s.Footprint()
}

// ReadBatch reads each id inside a single read transaction, in the
// order given.
func (s *BadgerStore) ReadBatch(ids []uint64) ([]ImageRecord, error) {
	out := make([]ImageRecord, 0, len(ids))

	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(recordKey(id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("read id %d: %w", id, ErrNotFound)
				}

				return fmt.Errorf("read id %d: %w", id, err)
			}

			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read id %d: %w", id, err)
			}

			rec, err := decodeRecord(id, val)
			if err != nil {
				return err
			}

			out = append(out, rec)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: %w", err)
	}

	return out, nil
}

// Footprint returns the size of the LSM and value-log files.
func (s *BadgerStore) Footprint() (uint64, error) {
	return dirSize(s.dir)
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
