// Package store provides persistent storage backends for image records.
// Each backend persists the same ImageRecord unit through a different
// on-disk organization: one file per record, a memory-mapped B+-tree
// key-value store, an HDF5 container, or an LSM-tree store.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Kind identifies a storage backend implementation.
type Kind string

const (
	// KindFiles stores one PNG file per record plus a CSV label file.
	KindFiles Kind = "files"
	// KindMDBX stores records in a memory-mapped B+-tree key-value
	// store with a single write transaction per batch.
	KindMDBX Kind = "mdbx"
	// KindHDF5 stores each batch as a group of typed N-dimensional
	// datasets in a single HDF5 container file.
	KindHDF5 Kind = "hdf5"
	// KindBadger stores records in an LSM-tree key-value store.
	KindBadger Kind = "badger"
)

// Kinds returns all supported backend kinds in presentation order.
func Kinds() []Kind {
	return []Kind{KindFiles, KindMDBX, KindHDF5, KindBadger}
}

// Options carries backend-specific tuning knobs.
type Options struct {
	// MapSize caps the mdbx backend's memory-mapped capacity in
	// bytes. Zero leaves the default (effectively unbounded)
	// geometry. Writes that exceed a fixed capacity fail with
	// ErrCapacityExceeded.
	MapSize int64
}

// Backend is the capability every storage implementation exposes.
// Implementations are not safe for concurrent use; the harness drives
// them from a single goroutine.
type Backend interface {
	// WriteBatch persists all records and returns the total bytes
	// the backend's storage occupies afterwards. The whole batch is
	// written through the backend's bulk path where one exists.
	WriteBatch(records []ImageRecord) (uint64, error)

	// ReadBatch returns the records for the given ids, in the same
	// order as ids. Any id never written fails the whole call with
	// ErrNotFound.
	ReadBatch(ids []uint64) ([]ImageRecord, error)

	// Footprint returns the bytes currently occupied on persistent
	// storage. Reads do not change it.
	Footprint() (uint64, error)

	// Close releases the backend. Persisted state remains on disk.
	Close() error
}

type openFunc func(dir string, opts Options) (Backend, error)

// openers maps each backend kind to its constructor.
var openers = map[Kind]openFunc{
	KindFiles: func(dir string, _ Options) (Backend, error) {
		return NewFileStore(dir)
	},
	KindMDBX: func(dir string, opts Options) (Backend, error) {
		return NewMDBXStore(dir, opts)
	},
	KindHDF5: func(dir string, _ Options) (Backend, error) {
		return NewHDF5Store(dir)
	},
	KindBadger: func(dir string, _ Options) (Backend, error) {
		return NewBadgerStore(dir)
	},
}

// Open creates or reopens the backend of the given kind rooted at dir.
// The directory is created if it does not exist. An unopenable
// location fails with ErrUnavailable.
func Open(kind Kind, dir string, opts Options) (Backend, error) {
	open, ok := openers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf(
			"%s: create dir %s: %w: %s",
			kind, dir, ErrUnavailable, err,
		)
	}

	return open(dir, opts)
}

// dirSize returns the total size of all regular files under path.
// It is the uniform footprint definition across backends.
func dirSize(path string) (uint64, error) {
	var size uint64

	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += uint64(info.Size())
		}

		return nil
	})

	return size, err
}
