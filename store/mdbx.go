package store

import (
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"
)

// tableRecords is the single MDBX named database holding records.
const tableRecords = "Records"

// defaultMapSize bounds the memory map when no explicit capacity is
// configured. 1 TiB upper geometry, grown on demand.
const defaultMapSize = 1 << 40

// MDBXStore persists records in a memory-mapped B+-tree key-value
// store, keyed by 8-byte big-endian id. Each batch is one write
// transaction, so a capacity failure mid-batch rolls the whole batch
// back.
type MDBXStore struct {
	env *mdbx.Env
	dir string
}

// NewMDBXStore opens an MDBX environment rooted at dir. A non-zero
// opts.MapSize fixes the map's upper geometry; writes beyond it fail
// with ErrCapacityExceeded rather than growing the map under readers.
func NewMDBXStore(dir string, opts Options) (*MDBXStore, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbx: create env: %w", err)
	}

	if err := env.SetOption(mdbx.OptMaxDB, 2); err != nil {
		env.Close()

		return nil, fmt.Errorf("mdbx: set max dbs: %w", err)
	}

	mapSize := int64(defaultMapSize)
	if opts.MapSize > 0 {
		mapSize = opts.MapSize
	}

	if err := env.SetGeometry(-1, -1, int(mapSize), -1, -1, 4096); err != nil {
		env.Close()

		return nil, fmt.Errorf("mdbx: set geometry: %w", err)
	}

	flags := uint(mdbx.NoReadahead | mdbx.Coalesce | mdbx.Durable)
	if err := env.Open(dir, flags, 0o644); err != nil {
		env.Close()

		return nil, fmt.Errorf(
			"mdbx: open %s: %w: %s", dir, ErrUnavailable, err,
		)
	}

	err = env.Update(func(txn *mdbx.Txn) error {
		if _, err := txn.OpenDBI(tableRecords, mdbx.Create, nil, nil); err != nil {
			return fmt.Errorf("create %s: %w", tableRecords, err)
		}

		return nil
	})
	if err != nil {
		env.Close()

		return nil, fmt.Errorf("mdbx: %w", err)
	}

	return &MDBXStore{env: env, dir: dir}, nil
}

// WriteBatch writes all records inside a single write transaction.
func (s *MDBXStore) WriteBatch(records []ImageRecord) (uint64, error) {
	err := s.env.Update(func(txn *mdbx.Txn) error {
		dbi, err := txn.OpenDBI(tableRecords, 0, nil, nil)
		if err != nil {
			return fmt.Errorf("open %s: %w", tableRecords, err)
		}

		for _, rec := range records {
			err := txn.Put(dbi, recordKey(rec.ID), encodeRecord(rec), 0)
			if err != nil {
				if mdbx.IsMapFull(err) {
					return fmt.Errorf(
						"write id %d: %w: %s",
						rec.ID, ErrCapacityExceeded, err,
					)
				}

				return fmt.Errorf("write id %d: %w", rec.ID, err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mdbx: %w", err)
	}

	return s.Footprint()
}

// ReadBatch reads each id inside a single read transaction, in the
// order given.
func (s *MDBXStore) ReadBatch(ids []uint64) ([]ImageRecord, error) {
	out := make([]ImageRecord, 0, len(ids))

	err := s.env.View(func(txn *mdbx.Txn) error {
		dbi, err := txn.OpenDBI(tableRecords, 0, nil, nil)
		if err != nil {
			return fmt.Errorf("open %s: %w", tableRecords, err)
		}

		for _, id := range ids {
			val, err := txn.Get(dbi, recordKey(id))
			if err != nil {
				if mdbx.IsNotFound(err) {
					return fmt.Errorf("read id %d: %w", id, ErrNotFound)
				}

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
		return nil, fmt.Errorf("mdbx: %w", err)
	}

	return out, nil
}

// Footprint returns the size of the data and lock files.
func (s *MDBXStore) Footprint() (uint64, error) {
	return dirSize(s.dir)
}

// Close closes the environment.
func (s *MDBXStore) Close() error {
	s.env.Close()

	return nil
}
