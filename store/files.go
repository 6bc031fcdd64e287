package store

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
)

// labelsFile is the side file holding id, label, channels per record.
const labelsFile = "labels.csv"

// FileStore persists one PNG file per record on a general filesystem,
// with labels and channel counts in a CSV side file. It has no bulk
// write path: a batch is a sequential loop of independent per-record
// writes, which is inherent to the format.
type FileStore struct {
	dir  string
	meta map[uint64]fileMeta
}

type fileMeta struct {
	label    int32
	channels int
}

// NewFileStore opens a flat-file store rooted at dir, loading any
// existing label metadata.
func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{
		dir:  dir,
		meta: make(map[uint64]fileMeta),
	}

	if err := s.loadMeta(); err != nil {
		return nil, fmt.Errorf("files: %w: %s", ErrUnavailable, err)
	}

	return s, nil
}

// WriteBatch writes one PNG per record and appends the batch's rows to
// the label side file.
func (s *FileStore) WriteBatch(records []ImageRecord) (uint64, error) {
	for _, rec := range records {
		if err := s.writeImage(rec); err != nil {
			return 0, fmt.Errorf("files: write id %d: %w", rec.ID, err)
		}
	}

	if err := s.appendMeta(records); err != nil {
		return 0, fmt.Errorf("files: write labels: %w", err)
	}

	for _, rec := range records {
		s.meta[rec.ID] = fileMeta{
			label:    rec.Label,
			channels: rec.Image.Channels,
		}
	}

	return s.Footprint()
}

// ReadBatch decodes the PNG for each id, in the order given.
func (s *FileStore) ReadBatch(ids []uint64) ([]ImageRecord, error) {
	out := make([]ImageRecord, 0, len(ids))

	for _, id := range ids {
		meta, ok := s.meta[id]
		if !ok {
			return nil, fmt.Errorf("files: read id %d: %w", id, ErrNotFound)
		}

		img, err := s.readImage(id, meta.channels)
		if err != nil {
			return nil, fmt.Errorf("files: read id %d: %w", id, err)
		}

		out = append(out, ImageRecord{
			ID:    id,
			Label: meta.label,
			Image: img,
		})
	}

	return out, nil
}

// Footprint returns the total size of all files under the store's
// directory, PNGs and side file included.
func (s *FileStore) Footprint() (uint64, error) {
	return dirSize(s.dir)
}

// Close is a no-op: the store holds no open handles between calls.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) imagePath(id uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%08d.png", id))
}

func (s *FileStore) writeImage(rec ImageRecord) error {
	img, err := toImage(rec.Image)
	if err != nil {
		return err
	}

	f, err := os.Create(s.imagePath(rec.ID))
	if err != nil {
		return err
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()

		return fmt.Errorf("encode png: %w", err)
	}

	return f.Close()
}

func (s *FileStore) readImage(id uint64, channels int) (Image, error) {
	f, err := os.Open(s.imagePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Image{}, ErrNotFound
		}

		return Image{}, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return Image{}, fmt.Errorf("decode png: %w", err)
	}

	return fromImage(img, channels)
}

func (s *FileStore) loadMeta() error {
	f, err := os.Open(filepath.Join(s.dir, labelsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("parse %s: %w", labelsFile, err)
	}

	for _, row := range rows {
		if len(row) != 3 {
			return fmt.Errorf("%s: malformed row %v", labelsFile, row)
		}

		id, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%s: bad id %q: %w", labelsFile, row[0], err)
		}

		label, err := strconv.ParseInt(row[1], 10, 32)
		if err != nil {
			return fmt.Errorf("%s: bad label %q: %w", labelsFile, row[1], err)
		}

		channels, err := strconv.Atoi(row[2])
		if err != nil {
			return fmt.Errorf("%s: bad channels %q: %w", labelsFile, row[2], err)
		}

		s.meta[id] = fileMeta{label: int32(label), channels: channels}
	}

	return nil
}

func (s *FileStore) appendMeta(records []ImageRecord) error {
	f, err := os.OpenFile(
		filepath.Join(s.dir, labelsFile),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644,
	)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	for _, rec := range records {
		row := []string{
			strconv.FormatUint(rec.ID, 10),
			strconv.FormatInt(int64(rec.Label), 10),
			strconv.Itoa(rec.Image.Channels),
		}
		if err := w.Write(row); err != nil {
			f.Close()

			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}

// toImage wraps a raw pixel plane in the stdlib image type matching
// its channel count. Only 1 (grayscale), 3 (opaque RGB), and 4 (RGBA)
// channels have a defined PNG mapping.
func toImage(im Image) (image.Image, error) {
	rect := image.Rect(0, 0, im.Width, im.Height)

	switch im.Channels {
	case 1:
		g := image.NewGray(rect)
		copy(g.Pix, im.Pixels)

		return g, nil

	case 3:
		n := image.NewNRGBA(rect)
		for i := 0; i < im.Width*im.Height; i++ {
			n.Pix[4*i+0] = im.Pixels[3*i+0]
			n.Pix[4*i+1] = im.Pixels[3*i+1]
			n.Pix[4*i+2] = im.Pixels[3*i+2]
			n.Pix[4*i+3] = 0xff
		}

		return n, nil

	case 4:
		n := image.NewNRGBA(rect)
		copy(n.Pix, im.Pixels)

		return n, nil

	default:
		return nil, fmt.Errorf("unsupported channel count %d", im.Channels)
	}
}

// fromImage converts a decoded image back to the raw pixel plane. The
// PNG decoder may hand back a different concrete type than was
// encoded, so conversion goes through color.NRGBAModel, which is exact
// for fully opaque 8-bit samples.
func fromImage(img image.Image, channels int) (Image, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if channels != 1 && channels != 3 && channels != 4 {
		return Image{}, fmt.Errorf("unsupported channel count %d", channels)
	}

	pixels := make([]byte, height*width*channels)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)

			switch channels {
			case 1:
				pixels[i] = c.R
				i++
			case 3:
				pixels[i+0] = c.R
				pixels[i+1] = c.G
				pixels[i+2] = c.B
				i += 3
			case 4:
				pixels[i+0] = c.R
				pixels[i+1] = c.G
				pixels[i+2] = c.B
				pixels[i+3] = c.A
				i += 4
			}
		}
	}

	return Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pixels:   pixels,
	}, nil
}
