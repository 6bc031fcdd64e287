package store

import (
	"encoding/binary"
	"fmt"
)

// Image is a fixed-shape height x width x channels array of uint8
// samples, row-major and channel-interleaved. Immutable once built.
type Image struct {
	Height   int
	Width    int
	Channels int
	Pixels   []byte
}

// SameShape reports whether two images have identical dimensions.
func (im Image) SameShape(other Image) bool {
	return im.Height == other.Height &&
		im.Width == other.Width &&
		im.Channels == other.Channels
}

// ImageRecord pairs an image with its class label and its unique id
// (the record's position in the dataset). The atomic unit stored and
// retrieved by every backend.
type ImageRecord struct {
	ID    uint64
	Label int32
	Image Image
}

// recordHeaderLen is the fixed encoded prefix: label(4) + height(4) +
// width(4) + channels(4), all big-endian.
const recordHeaderLen = 16

// recordKey returns the 8-byte big-endian key for an id.
func recordKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)

	return key
}

// encodeRecord serializes a record's label, shape, and raw pixel
// plane. The id travels as the key, not in the value.
func encodeRecord(rec ImageRecord) []byte {
	buf := make([]byte, recordHeaderLen+len(rec.Image.Pixels))
	binary.BigEndian.PutUint32(buf[0:4], uint32(rec.Label))
	binary.BigEndian.PutUint32(buf[4:8], uint32(rec.Image.Height))
	binary.BigEndian.PutUint32(buf[8:12], uint32(rec.Image.Width))
	binary.BigEndian.PutUint32(buf[12:16], uint32(rec.Image.Channels))
	copy(buf[recordHeaderLen:], rec.Image.Pixels)

	return buf
}

// decodeRecord parses an encoded record value, validating that the
// pixel plane matches the declared shape.
func decodeRecord(id uint64, val []byte) (ImageRecord, error) {
	if len(val) < recordHeaderLen {
		return ImageRecord{}, fmt.Errorf(
			"record %d: truncated value (%d bytes)", id, len(val),
		)
	}

	label := int32(binary.BigEndian.Uint32(val[0:4]))
	height := int(binary.BigEndian.Uint32(val[4:8]))
	width := int(binary.BigEndian.Uint32(val[8:12]))
	channels := int(binary.BigEndian.Uint32(val[12:16]))

	want := height * width * channels
	if len(val)-recordHeaderLen != want {
		return ImageRecord{}, fmt.Errorf(
			"record %d: pixel plane is %d bytes, shape %dx%dx%d needs %d",
			id, len(val)-recordHeaderLen, height, width, channels, want,
		)
	}

	pixels := make([]byte, want)
	copy(pixels, val[recordHeaderLen:])

	return ImageRecord{
		ID:    id,
		Label: label,
		Image: Image{
			Height:   height,
			Width:    width,
			Channels: channels,
			Pixels:   pixels,
		},
	}, nil
}
