package bench

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/imstor/imstor/store"
)

// OpenFunc opens a backend rooted at dir. The runner calls it once per
// trial with a fresh directory so footprints stay attributable to a
// single trial.
type OpenFunc func(dir string) (store.Backend, error)

// Runner sweeps one backend across a sequence of dataset sizes.
type Runner struct {
	Name    string
	Open    OpenFunc
	BaseDir string
	Repeats int
	Verify  bool
	Logger  *slog.Logger
}

// NewRunner creates a Runner for the named backend. Trial storage
// lives under baseDir/name.
func NewRunner(
	name string, open OpenFunc, baseDir string, logger *slog.Logger,
) *Runner {
	return &Runner{
		Name:    name,
		Open:    open,
		BaseDir: baseDir,
		Repeats: 1,
		Logger:  logger.With(slog.String("backend", name)),
	}
}

// MeasureWrite times exactly one WriteBatch call for the whole batch.
// The footprint comes from the backend's own accounting and the
// persisted state is left in place.
func MeasureWrite(
	b store.Backend, records []store.ImageRecord,
) (Measurement, error) {
	if len(records) == 0 {
		return Measurement{}, fmt.Errorf("empty record batch")
	}

	shape := records[0].Image
	for _, rec := range records[1:] {
		if !rec.Image.SameShape(shape) {
			return Measurement{}, fmt.Errorf(
				"id %d: shape %dx%dx%d differs from batch shape %dx%dx%d",
				rec.ID,
				rec.Image.Height, rec.Image.Width, rec.Image.Channels,
				shape.Height, shape.Width, shape.Channels,
			)
		}
	}

	start := time.Now()
	size, err := b.WriteBatch(records)
	elapsed := time.Since(start)

	if err != nil {
		return Measurement{}, fmt.Errorf(
			"write %d records: %w", len(records), err,
		)
	}

	return Measurement{Elapsed: elapsed, FootprintBytes: size}, nil
}

// MeasureRead times exactly one ReadBatch call for all ids. Every id
// must have been written previously. Correctness of the returned
// records is checked separately by VerifyRoundTrip, not here.
func MeasureRead(b store.Backend, ids []uint64) (Measurement, error) {
	if len(ids) == 0 {
		return Measurement{}, fmt.Errorf("empty id batch")
	}

	start := time.Now()
	records, err := b.ReadBatch(ids)
	elapsed := time.Since(start)

	if err != nil {
		return Measurement{}, fmt.Errorf("read %d records: %w", len(ids), err)
	}

	if len(records) != len(ids) {
		return Measurement{}, fmt.Errorf(
			"read returned %d records, want %d", len(records), len(ids),
		)
	}

	size, err := b.Footprint()
	if err != nil {
		return Measurement{}, fmt.Errorf("measure footprint: %w", err)
	}

	return Measurement{Elapsed: elapsed, FootprintBytes: size}, nil
}

// VerifyRoundTrip reads back every record and checks byte-for-byte
// image equality, exact label match, and order preservation.
func VerifyRoundTrip(b store.Backend, records []store.ImageRecord) error {
	ids := make([]uint64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}

	got, err := b.ReadBatch(ids)
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}

	if len(got) != len(records) {
		return fmt.Errorf(
			"read back %d records, want %d", len(got), len(records),
		)
	}

	for i, want := range records {
		if got[i].ID != want.ID {
			return fmt.Errorf(
				"position %d: id %d, want %d", i, got[i].ID, want.ID,
			)
		}
		if got[i].Label != want.Label {
			return fmt.Errorf(
				"id %d: label %d, want %d", want.ID, got[i].Label, want.Label,
			)
		}
		if !got[i].Image.SameShape(want.Image) {
			return fmt.Errorf("id %d: shape mismatch", want.ID)
		}
		if !bytes.Equal(got[i].Image.Pixels, want.Image.Pixels) {
			return fmt.Errorf("id %d: pixel data mismatch", want.ID)
		}
	}

	return nil
}

// RunSweep runs one trial per size, in the given order, each in a
// fresh storage directory. The first n dataset records are taken
// cyclically with ids reassigned 0..n-1; preparation happens outside
// the timed region. Any failure aborts the sweep with backend and
// size context attached.
func (r *Runner) RunSweep(
	dataset []store.ImageRecord, sizes []int,
) (SweepResult, error) {
	result := SweepResult{Backend: r.Name}

	if len(dataset) == 0 {
		return result, fmt.Errorf("%s: empty dataset", r.Name)
	}

	repeats := r.Repeats
	if repeats < 1 {
		repeats = 1
	}

	for _, n := range sizes {
		if n <= 0 {
			return result, fmt.Errorf("%s: invalid sweep size %d", r.Name, n)
		}

		records := take(dataset, n)

		ids := make([]uint64, n)
		for i := range ids {
			ids[i] = uint64(i)
		}

		writeDurs := make([]float64, 0, repeats)
		readDurs := make([]float64, 0, repeats)

		var writeSize, readSize uint64

		for rep := 0; rep < repeats; rep++ {
			write, read, err := r.runTrial(records, ids, n, rep)
			if err != nil {
				return result, fmt.Errorf("%s: size %d: %w", r.Name, n, err)
			}

			writeDurs = append(writeDurs, float64(write.Elapsed))
			readDurs = append(readDurs, float64(read.Elapsed))

			if rep == 0 {
				writeSize = write.FootprintBytes
				readSize = read.FootprintBytes
			}
		}

		trial := Trial{
			Size:  n,
			Write: aggregate(writeDurs, writeSize),
			Read:  aggregate(readDurs, readSize),
		}
		result.Trials = append(result.Trials, trial)

		r.Logger.Info("trial complete",
			slog.Int("size", n),
			slog.Duration("write", trial.Write.Elapsed),
			slog.Duration("read", trial.Read.Elapsed),
			slog.Uint64("footprint_bytes", trial.Write.FootprintBytes),
		)
	}

	return result, nil
}

// runTrial runs prepare -> write -> read in a fresh directory. The
// backend is released on every exit path; persisted state stays for
// the footprint numbers already captured.
func (r *Runner) runTrial(
	records []store.ImageRecord, ids []uint64, n, rep int,
) (write, read Measurement, err error) {
	dir := filepath.Join(
		r.BaseDir, r.Name, fmt.Sprintf("n%08d_r%02d", n, rep),
	)

	if err = os.RemoveAll(dir); err != nil {
		return write, read, fmt.Errorf("clean trial dir %s: %w", dir, err)
	}

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return write, read, fmt.Errorf("create trial dir %s: %w", dir, err)
	}

	backend, err := r.Open(dir)
	if err != nil {
		return write, read, fmt.Errorf("open backend: %w", err)
	}

	defer func() {
		if cerr := backend.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close backend: %w", cerr)
		}
	}()

	if write, err = MeasureWrite(backend, records); err != nil {
		return write, read, err
	}

	if read, err = MeasureRead(backend, ids); err != nil {
		return write, read, err
	}

	if r.Verify {
		if err = VerifyRoundTrip(backend, records); err != nil {
			return write, read, fmt.Errorf("verify: %w", err)
		}
	}

	return write, read, nil
}

// take returns the first n dataset records, repeating cyclically when
// n exceeds the dataset length, with ids reassigned 0..n-1. Pixel
// buffers are shared: records are immutable once built.
func take(dataset []store.ImageRecord, n int) []store.ImageRecord {
	out := make([]store.ImageRecord, n)

	for i := 0; i < n; i++ {
		rec := dataset[i%len(dataset)]
		rec.ID = uint64(i)
		out[i] = rec
	}

	return out
}

// aggregate folds per-repeat durations into a Measurement.
func aggregate(durs []float64, footprint uint64) Measurement {
	m := Measurement{
		Elapsed:        time.Duration(stat.Mean(durs, nil)),
		FootprintBytes: footprint,
	}

	if len(durs) > 1 {
		m.ElapsedStdDev = time.Duration(stat.StdDev(durs, nil))
	}

	return m
}

// GeometricSizes returns the sweep sizes 1, 10, 100, ... capped at
// max, with max itself appended when it is not a power of ten.
func GeometricSizes(max int) []int {
	if max < 1 {
		return nil
	}

	var sizes []int
	for n := 1; n <= max; n *= 10 {
		sizes = append(sizes, n)
	}

	if sizes[len(sizes)-1] != max {
		sizes = append(sizes, max)
	}

	return sizes
}
