package tonie

import (
	"bytes"
	"testing"
)

func TestHeaderMarshalParseRoundTrip(t *testing.T) {
	h := &Header{
		DataHash:     bytes.Repeat([]byte{0xAB}, 20),
		DataLength:   123456,
		Timestamp:    1700000000,
		ChapterPages: []uint32{0, 5, 12},
	}

	got, err := ParseHeader(h.Marshal())
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}

	if !bytes.Equal(got.DataHash, h.DataHash) {
		t.Fatalf("DataHash = %x, want %x", got.DataHash, h.DataHash)
	}
	if got.DataLength != h.DataLength {
		t.Fatalf("DataLength = %d, want %d", got.DataLength, h.DataLength)
	}
	if got.Timestamp != h.Timestamp {
		t.Fatalf("Timestamp = %d, want %d", got.Timestamp, h.Timestamp)
	}
	if len(got.ChapterPages) != len(h.ChapterPages) {
		t.Fatalf("ChapterPages = %v, want %v", got.ChapterPages, h.ChapterPages)
	}
	for i := range h.ChapterPages {
		if got.ChapterPages[i] != h.ChapterPages[i] {
			t.Fatalf("ChapterPages[%d] = %d, want %d", i, got.ChapterPages[i], h.ChapterPages[i])
		}
	}
}

func TestEncodeRegionIsExactlyOnePage(t *testing.T) {
	h := &Header{
		DataHash:     bytes.Repeat([]byte{0x01}, 20),
		DataLength:   999,
		Timestamp:    42,
		ChapterPages: []uint32{0, 3},
	}

	region, err := h.EncodeRegion()
	if err != nil {
		t.Fatalf("EncodeRegion() error = %v", err)
	}
	if len(region) != headerRegionSize {
		t.Fatalf("len(region) = %d, want %d", len(region), headerRegionSize)
	}

	got, err := DecodeRegion(region)
	if err != nil {
		t.Fatalf("DecodeRegion() error = %v", err)
	}
	if !bytes.Equal(got.DataHash, h.DataHash) {
		t.Fatalf("DataHash = %x, want %x", got.DataHash, h.DataHash)
	}
	if got.DataLength != h.DataLength {
		t.Fatalf("DataLength = %d, want %d", got.DataLength, h.DataLength)
	}
}

func TestEncodeRegionWithManyChaptersStillFits(t *testing.T) {
	chapters := make([]uint32, 200)
	for i := range chapters {
		chapters[i] = uint32(i * 7)
	}
	h := &Header{
		DataHash:     bytes.Repeat([]byte{0x02}, 20),
		DataLength:   5_000_000,
		Timestamp:    1,
		ChapterPages: chapters,
	}

	region, err := h.EncodeRegion()
	if err != nil {
		t.Fatalf("EncodeRegion() error = %v", err)
	}
	if len(region) != headerRegionSize {
		t.Fatalf("len(region) = %d, want %d", len(region), headerRegionSize)
	}
}
