package store

import (
	"bytes"
	"testing"
)

func testRecord(id uint64, label int32, h, w, c int) ImageRecord {
	pixels := make([]byte, h*w*c)
	for i := range pixels {
		pixels[i] = byte(i + int(id))
	}

	return ImageRecord{
		ID:    id,
		Label: label,
		Image: Image{Height: h, Width: w, Channels: c, Pixels: pixels},
	}
}

func TestRecordCodecRoundTrip(t *testing.T) {
	want := testRecord(42, 6, 32, 32, 3)

	got, err := decodeRecord(42, encodeRecord(want))
	if err != nil {
		t.Fatalf("decodeRecord failed: %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("id = %d, want %d", got.ID, want.ID)
	}
	if got.Label != want.Label {
		t.Errorf("label = %d, want %d", got.Label, want.Label)
	}
	if !got.Image.SameShape(want.Image) {
		t.Errorf("shape = %dx%dx%d, want 32x32x3",
			got.Image.Height, got.Image.Width, got.Image.Channels)
	}
	if !bytes.Equal(got.Image.Pixels, want.Image.Pixels) {
		t.Error("pixel data differs after round trip")
	}
}

func TestDecodeRecordTruncated(t *testing.T) {
	if _, err := decodeRecord(0, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated value")
	}
}

func TestDecodeRecordShapeMismatch(t *testing.T) {
	val := encodeRecord(testRecord(0, 1, 4, 4, 3))

	// Drop a pixel byte so the plane no longer matches the shape.
	if _, err := decodeRecord(0, val[:len(val)-1]); err == nil {
		t.Error("expected error for shape/plane mismatch")
	}
}

func TestRecordKeyOrdering(t *testing.T) {
	// Big-endian keys must sort in id order for ordered stores.
	if bytes.Compare(recordKey(1), recordKey(256)) >= 0 {
		t.Error("key 1 should sort before key 256")
	}
	if bytes.Compare(recordKey(255), recordKey(256)) >= 0 {
		t.Error("key 255 should sort before key 256")
	}
}
