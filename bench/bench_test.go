package bench

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/imstor/imstor/store"
)

// fakeBackend is an in-memory store.Backend for exercising the
// harness without touching real storage engines.
type fakeBackend struct {
	records   map[uint64]store.ImageRecord
	footprint uint64
	writes    int
	closed    bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{records: make(map[uint64]store.ImageRecord)}
}

func (f *fakeBackend) WriteBatch(records []store.ImageRecord) (uint64, error) {
	f.writes++

	for _, rec := range records {
		f.records[rec.ID] = rec
		f.footprint += uint64(len(rec.Image.Pixels))
	}

	return f.footprint, nil
}

func (f *fakeBackend) ReadBatch(ids []uint64) ([]store.ImageRecord, error) {
	out := make([]store.ImageRecord, 0, len(ids))

	for _, id := range ids {
		rec, ok := f.records[id]
		if !ok {
			return nil, fmt.Errorf("read id %d: %w", id, store.ErrNotFound)
		}

		out = append(out, rec)
	}

	return out, nil
}

func (f *fakeBackend) Footprint() (uint64, error) {
	return f.footprint, nil
}

func (f *fakeBackend) Close() error {
	f.closed = true

	return nil
}

func testRecord(id uint64, label int32, h, w, c int) store.ImageRecord {
	pixels := make([]byte, h*w*c)
	for i := range pixels {
		pixels[i] = byte(i + int(id))
	}

	return store.ImageRecord{
		ID:    id,
		Label: label,
		Image: store.Image{Height: h, Width: w, Channels: c, Pixels: pixels},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMeasureWriteEmptyBatch(t *testing.T) {
	if _, err := MeasureWrite(newFakeBackend(), nil); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestMeasureWriteShapeMismatch(t *testing.T) {
	records := []store.ImageRecord{
		testRecord(0, 1, 8, 8, 3),
		testRecord(1, 2, 16, 16, 3),
	}

	if _, err := MeasureWrite(newFakeBackend(), records); err == nil {
		t.Error("expected error for mixed image shapes")
	}
}

func TestMeasureWriteSingleInvocation(t *testing.T) {
	b := newFakeBackend()
	records := []store.ImageRecord{
		testRecord(0, 1, 8, 8, 3),
		testRecord(1, 2, 8, 8, 3),
	}

	m, err := MeasureWrite(b, records)
	if err != nil {
		t.Fatalf("MeasureWrite failed: %v", err)
	}

	if b.writes != 1 {
		t.Errorf("WriteBatch invoked %d times, want 1", b.writes)
	}
	if m.FootprintBytes != b.footprint {
		t.Errorf("footprint = %d, want %d", m.FootprintBytes, b.footprint)
	}
	if m.Elapsed < 0 {
		t.Errorf("elapsed = %v, want non-negative", m.Elapsed)
	}
}

func TestMeasureReadMissingID(t *testing.T) {
	b := newFakeBackend()
	if _, err := b.WriteBatch([]store.ImageRecord{testRecord(0, 1, 8, 8, 3)}); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	_, err := MeasureRead(b, []uint64{0, 5})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MeasureRead error = %v, want ErrNotFound", err)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	b := newFakeBackend()
	records := []store.ImageRecord{
		testRecord(0, 6, 8, 8, 3),
		testRecord(1, 3, 8, 8, 3),
	}

	if _, err := b.WriteBatch(records); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	if err := VerifyRoundTrip(b, records); err != nil {
		t.Errorf("VerifyRoundTrip failed: %v", err)
	}

	// Corrupt a stored label; verification must notice.
	bad := b.records[1]
	bad.Label = 9
	b.records[1] = bad

	if err := VerifyRoundTrip(b, records); err == nil {
		t.Error("expected error for corrupted label")
	}
}

func TestRunSweep(t *testing.T) {
	var opened []*fakeBackend
	var dirs []string

	runner := NewRunner("fake", func(dir string) (store.Backend, error) {
		b := newFakeBackend()
		opened = append(opened, b)
		dirs = append(dirs, dir)

		return b, nil
	}, t.TempDir(), testLogger())
	runner.Verify = true

	dataset := []store.ImageRecord{
		testRecord(0, 1, 8, 8, 3),
		testRecord(1, 2, 8, 8, 3),
		testRecord(2, 3, 8, 8, 3),
	}
	sizes := []int{1, 5}

	result, err := runner.RunSweep(dataset, sizes)
	if err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	if result.Backend != "fake" {
		t.Errorf("backend = %q, want fake", result.Backend)
	}
	if len(result.Trials) != len(sizes) {
		t.Fatalf("got %d trials, want %d", len(result.Trials), len(sizes))
	}

	for i, trial := range result.Trials {
		if trial.Size != sizes[i] {
			t.Errorf("trial %d size = %d, want %d", i, trial.Size, sizes[i])
		}
		if trial.Write.FootprintBytes == 0 {
			t.Errorf("trial %d has zero write footprint", i)
		}
	}

	// One backend per trial, each in a distinct directory, all closed.
	if len(opened) != len(sizes) {
		t.Fatalf("opened %d backends, want %d", len(opened), len(sizes))
	}
	if dirs[0] == dirs[1] {
		t.Error("trials shared a storage directory")
	}
	for i, b := range opened {
		if !b.closed {
			t.Errorf("backend for trial %d was not closed", i)
		}
	}

	// The size-5 trial wraps the 3-record dataset cyclically with
	// ids reassigned 0..4.
	last := opened[1]
	if len(last.records) != 5 {
		t.Fatalf("size-5 trial stored %d records, want 5", len(last.records))
	}
	for id := uint64(0); id < 5; id++ {
		rec, ok := last.records[id]
		if !ok {
			t.Fatalf("size-5 trial missing id %d", id)
		}

		source := dataset[int(id)%len(dataset)]
		if rec.Label != source.Label {
			t.Errorf("id %d: label = %d, want %d", id, rec.Label, source.Label)
		}
		if !bytes.Equal(rec.Image.Pixels, source.Image.Pixels) {
			t.Errorf("id %d: pixels differ from cyclic source", id)
		}
	}
}

func TestRunSweepRepeats(t *testing.T) {
	var opened int

	runner := NewRunner("fake", func(string) (store.Backend, error) {
		opened++

		return newFakeBackend(), nil
	}, t.TempDir(), testLogger())
	runner.Repeats = 3

	dataset := []store.ImageRecord{testRecord(0, 1, 8, 8, 3)}

	result, err := runner.RunSweep(dataset, []int{1})
	if err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}

	if opened != 3 {
		t.Errorf("opened %d backends, want 3 (one per repeat)", opened)
	}
	if len(result.Trials) != 1 {
		t.Fatalf("got %d trials, want 1", len(result.Trials))
	}
}

func TestRunSweepOpenFailure(t *testing.T) {
	runner := NewRunner("fake", func(string) (store.Backend, error) {
		return nil, store.ErrUnavailable
	}, t.TempDir(), testLogger())

	dataset := []store.ImageRecord{testRecord(0, 1, 8, 8, 3)}

	_, err := runner.RunSweep(dataset, []int{1})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("RunSweep error = %v, want ErrUnavailable", err)
	}
}

func TestRunSweepInvalidSize(t *testing.T) {
	runner := NewRunner("fake", func(string) (store.Backend, error) {
		return newFakeBackend(), nil
	}, t.TempDir(), testLogger())

	dataset := []store.ImageRecord{testRecord(0, 1, 8, 8, 3)}

	if _, err := runner.RunSweep(dataset, []int{0}); err == nil {
		t.Error("expected error for size 0")
	}
}

func TestGeometricSizes(t *testing.T) {
	tests := []struct {
		max  int
		want []int
	}{
		{0, nil},
		{1, []int{1}},
		{100, []int{1, 10, 100}},
		{250, []int{1, 10, 100, 250}},
		{50000, []int{1, 10, 100, 1000, 10000, 50000}},
	}

	for _, tt := range tests {
		got := GeometricSizes(tt.max)
		if len(got) != len(tt.want) {
			t.Errorf("GeometricSizes(%d) = %v, want %v", tt.max, got, tt.want)

			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("GeometricSizes(%d) = %v, want %v", tt.max, got, tt.want)

				break
			}
		}
	}
}
