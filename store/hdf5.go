package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/hdf5"
)

// hdf5FileName is the single container file holding all batches.
const hdf5FileName = "images.h5"

// HDF5Store persists records in an HDF5 container. Each batch becomes
// a batch_NNNN group holding three homogeneous datasets: images
// (N x H x W x C uint8), labels (N int32), and ids (N uint64). The
// file is opened per call and released before returning.
type HDF5Store struct {
	path string
	dir  string
}

// NewHDF5Store creates or reopens the container file under dir.
func NewHDF5Store(dir string) (*HDF5Store, error) {
	path := filepath.Join(dir, hdf5FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := hdf5.CreateFile(path, hdf5.F_ACC_EXCL)
		if err != nil {
			return nil, fmt.Errorf(
				"hdf5: create %s: %w: %s", path, ErrUnavailable, err,
			)
		}

		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("hdf5: close %s: %w", path, err)
		}
	}

	return &HDF5Store{path: path, dir: dir}, nil
}

// WriteBatch appends one group of datasets holding the whole batch.
// All records in a batch must share one shape, since they land in a
// single homogeneous N-dimensional dataset.
func (s *HDF5Store) WriteBatch(records []ImageRecord) (uint64, error) {
	if err := s.writeGroup(records); err != nil {
		return 0, err
	}

	return s.Footprint()
}

func (s *HDF5Store) writeGroup(records []ImageRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("hdf5: empty batch")
	}

	f, err := hdf5.OpenFile(s.path, hdf5.F_ACC_RDWR)
	if err != nil {
		return fmt.Errorf(
			"hdf5: open %s: %w: %s", s.path, ErrUnavailable, err,
		)
	}
	defer f.Close()

	numBatches, err := f.NumObjects()
	if err != nil {
		return fmt.Errorf("hdf5: count batches: %w", err)
	}

	g, err := f.CreateGroup(batchGroupName(int(numBatches)))
	if err != nil {
		return fmt.Errorf("hdf5: create batch group: %w", err)
	}
	defer g.Close()

	n := len(records)
	shape := records[0].Image

	flat := make([]uint8, 0, n*len(shape.Pixels))
	labels := make([]int32, n)
	ids := make([]uint64, n)

	for i, rec := range records {
		if !rec.Image.SameShape(shape) {
			return fmt.Errorf(
				"hdf5: id %d: shape %dx%dx%d differs from batch shape %dx%dx%d",
				rec.ID,
				rec.Image.Height, rec.Image.Width, rec.Image.Channels,
				shape.Height, shape.Width, shape.Channels,
			)
		}

		flat = append(flat, rec.Image.Pixels...)
		labels[i] = rec.Label
		ids[i] = rec.ID
	}

	imageDims := []uint{
		uint(n), uint(shape.Height), uint(shape.Width), uint(shape.Channels),
	}
	scalarDims := []uint{uint(n)}

	if err := writeDataset(g, "images", hdf5.T_NATIVE_UINT8, imageDims, &flat); err != nil {
		return fmt.Errorf("hdf5: write images: %w", err)
	}
	if err := writeDataset(g, "labels", hdf5.T_NATIVE_INT32, scalarDims, &labels); err != nil {
		return fmt.Errorf("hdf5: write labels: %w", err)
	}
	if err := writeDataset(g, "ids", hdf5.T_NATIVE_UINT64, scalarDims, &ids); err != nil {
		return fmt.Errorf("hdf5: write ids: %w", err)
	}

	return nil
}

// ReadBatch loads every batch group's datasets and assembles records
// in the order ids were requested.
func (s *HDF5Store) ReadBatch(ids []uint64) ([]ImageRecord, error) {
	f, err := hdf5.OpenFile(s.path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf(
			"hdf5: open %s: %w: %s", s.path, ErrUnavailable, err,
		)
	}
	defer f.Close()

	index := make(map[uint64]ImageRecord)

	numBatches, err := f.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("hdf5: count batches: %w", err)
	}

	for b := 0; b < int(numBatches); b++ {
		if err := s.readGroup(f, batchGroupName(b), index); err != nil {
			return nil, err
		}
	}

	out := make([]ImageRecord, 0, len(ids))

	for _, id := range ids {
		rec, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("hdf5: read id %d: %w", id, ErrNotFound)
		}

		out = append(out, rec)
	}

	return out, nil
}

func (s *HDF5Store) readGroup(
	f *hdf5.File, name string, index map[uint64]ImageRecord,
) error {
	g, err := f.OpenGroup(name)
	if err != nil {
		return fmt.Errorf("hdf5: open group %s: %w", name, err)
	}
	defer g.Close()

	images, err := g.OpenDataset("images")
	if err != nil {
		return fmt.Errorf("hdf5: open %s/images: %w", name, err)
	}
	defer images.Close()

	space := images.Space()
	defer space.Close()

	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return fmt.Errorf("hdf5: %s/images dims: %w", name, err)
	}
	if len(dims) != 4 {
		return fmt.Errorf(
			"hdf5: %s/images has rank %d, want 4", name, len(dims),
		)
	}

	n := int(dims[0])
	height := int(dims[1])
	width := int(dims[2])
	channels := int(dims[3])
	stride := height * width * channels

	flat := make([]uint8, n*stride)
	if err := images.Read(&flat); err != nil {
		return fmt.Errorf("hdf5: read %s/images: %w", name, err)
	}

	labels := make([]int32, n)
	if err := readDataset(g, name, "labels", &labels); err != nil {
		return err
	}

	ids := make([]uint64, n)
	if err := readDataset(g, name, "ids", &ids); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		pixels := make([]byte, stride)
		copy(pixels, flat[i*stride:(i+1)*stride])

		index[ids[i]] = ImageRecord{
			ID:    ids[i],
			Label: labels[i],
			Image: Image{
				Height:   height,
				Width:    width,
				Channels: channels,
				Pixels:   pixels,
			},
		}
	}

	return nil
}

// Footprint returns the total size of the files under the store's
// directory, which is the container file alone.
func (s *HDF5Store) Footprint() (uint64, error) {
	return dirSize(s.dir)
}

// Close is a no-op: the file handle is scoped to each call.
func (s *HDF5Store) Close() error {
	return nil
}

func batchGroupName(i int) string {
	return fmt.Sprintf("batch_%04d", i)
}

func writeDataset(
	g *hdf5.Group, name string, typ *hdf5.Datatype, dims []uint, data any,
) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("dataspace %s: %w", name, err)
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, typ, space)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer dset.Close()

	return dset.Write(data)
}

func readDataset(g *hdf5.Group, group, name string, data any) error {
	dset, err := g.OpenDataset(name)
	if err != nil {
		return fmt.Errorf("hdf5: open %s/%s: %w", group, name, err)
	}
	defer dset.Close()

	if err := dset.Read(data); err != nil {
		return fmt.Errorf("hdf5: read %s/%s: %w", group, name, err)
	}

	return nil
}
