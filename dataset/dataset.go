// Package dataset produces the image records fed to benchmark trials:
// a deterministic seeded synthetic generator, and a loader for the
// CIFAR-10 binary batch format.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/imstor/imstor/store"
)

// Config controls synthetic dataset generation.
type Config struct {
	Count    int
	Height   int
	Width    int
	Channels int
	Classes  int
	Seed     int64
}

// Generator produces deterministic image records from a Config. The
// same seed always yields the same records.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// Generate builds the full dataset. Ids are the record positions,
// labels are uniform over [0, Classes), pixels are uniform random.
func (g *Generator) Generate() ([]store.ImageRecord, error) {
	if g.cfg.Count <= 0 {
		return nil, fmt.Errorf("dataset count must be positive, got %d", g.cfg.Count)
	}
	if g.cfg.Height <= 0 || g.cfg.Width <= 0 || g.cfg.Channels <= 0 {
		return nil, fmt.Errorf(
			"invalid image shape %dx%dx%d",
			g.cfg.Height, g.cfg.Width, g.cfg.Channels,
		)
	}
	if g.cfg.Classes <= 0 {
		return nil, fmt.Errorf("class count must be positive, got %d", g.cfg.Classes)
	}

	stride := g.cfg.Height * g.cfg.Width * g.cfg.Channels
	records := make([]store.ImageRecord, g.cfg.Count)

	for i := range records {
		pixels := make([]byte, stride)
		g.rng.Read(pixels)

		records[i] = store.ImageRecord{
			ID:    uint64(i),
			Label: int32(g.rng.Intn(g.cfg.Classes)),
			Image: store.Image{
				Height:   g.cfg.Height,
				Width:    g.cfg.Width,
				Channels: g.cfg.Channels,
				Pixels:   pixels,
			},
		}
	}

	return records, nil
}

// CIFAR-10 binary batch layout: per record, 1 label byte followed by
// 3072 pixel bytes stored as three 32x32 planes (R, G, B).
const (
	cifarHeight    = 32
	cifarWidth     = 32
	cifarChannels  = 3
	cifarPlaneLen  = cifarHeight * cifarWidth
	cifarRecordLen = 1 + cifarPlaneLen*cifarChannels
)

// LoadCIFAR10 reads every .bin batch file under dir, in name order,
// converting the planar pixel layout to interleaved H x W x C. Ids are
// assigned by position across all files.
func LoadCIFAR10(dir string) ([]store.ImageRecord, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.bin"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .bin batch files under %s", dir)
	}

	sort.Strings(paths)

	var records []store.ImageRecord

	for _, path := range paths {
		records, err = loadCIFARBatch(path, records)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	return records, nil
}

func loadCIFARBatch(
	path string, records []store.ImageRecord,
) ([]store.ImageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	buf := make([]byte, cifarRecordLen)

	for {
		_, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf(
				"record %d: %w", len(records), err,
			)
		}

		pixels := make([]byte, cifarPlaneLen*cifarChannels)
		for ch := 0; ch < cifarChannels; ch++ {
			plane := buf[1+ch*cifarPlaneLen : 1+(ch+1)*cifarPlaneLen]
			for p, v := range plane {
				pixels[p*cifarChannels+ch] = v
			}
		}

		records = append(records, store.ImageRecord{
			ID:    uint64(len(records)),
			Label: int32(buf[0]),
			Image: store.Image{
				Height:   cifarHeight,
				Width:    cifarWidth,
				Channels: cifarChannels,
				Pixels:   pixels,
			},
		})
	}
}
