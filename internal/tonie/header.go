// Package tonie implements the container format itself: the length-
// prefixed protobuf header, the 4KiB-aligned page layout rules, and the
// stream rewriter and extractor built on top of package ogg.
package tonie

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rubiojr/tonietool/internal/tonieerr"
)

// headerRegionSize is the fixed size, in bytes, of the length-prefixed
// protobuf header at the start of every container: 4 bytes of big-endian
// length followed by 4092 bytes of protobuf body and zero padding.
const headerRegionSize = 0x1000

// Header is the TonieHeader protobuf message: a SHA-1 of everything past
// the header region, the length of that region, a timestamp that is also
// used as the stream's Ogg serial number, and the page number of each
// chapter's first page (0 for the first chapter).
type Header struct {
	DataHash     []byte
	DataLength   uint32
	Timestamp    uint32
	ChapterPages []uint32
	Padding      []byte
}

const (
	fieldDataHash     protowire.Number = 1
	fieldDataLength   protowire.Number = 2
	fieldTimestamp    protowire.Number = 3
	fieldChapterPages protowire.Number = 4
	fieldPadding      protowire.Number = 5
)

// Marshal encodes the header's protobuf body (without the length prefix).
func (h *Header) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldDataHash, protowire.BytesType)
	buf = protowire.AppendBytes(buf, h.DataHash)

	buf = protowire.AppendTag(buf, fieldDataLength, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(h.DataLength))

	buf = protowire.AppendTag(buf, fieldTimestamp, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(h.Timestamp))

	for _, pg := range h.ChapterPages {
		buf = protowire.AppendTag(buf, fieldChapterPages, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(pg))
	}

	if len(h.Padding) > 0 {
		buf = protowire.AppendTag(buf, fieldPadding, protowire.BytesType)
		buf = protowire.AppendBytes(buf, h.Padding)
	}

	return buf
}

// ParseHeader decodes a TonieHeader protobuf body.
func ParseHeader(data []byte) (*Header, error) {
	h := &Header{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, tonieerr.Wrap(tonieerr.KindHeaderParseFailed, "consume tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldDataHash:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, tonieerr.Wrap(tonieerr.KindHeaderParseFailed, "data_hash", protowire.ParseError(n))
			}
			h.DataHash = append([]byte(nil), v...)
			data = data[n:]
		case fieldDataLength:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, tonieerr.Wrap(tonieerr.KindHeaderParseFailed, "data_length", protowire.ParseError(n))
			}
			h.DataLength = uint32(v)
			data = data[n:]
		case fieldTimestamp:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, tonieerr.Wrap(tonieerr.KindHeaderParseFailed, "timestamp", protowire.ParseError(n))
			}
			h.Timestamp = uint32(v)
			data = data[n:]
		case fieldChapterPages:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, tonieerr.Wrap(tonieerr.KindHeaderParseFailed, "chapter_pages", protowire.ParseError(n))
			}
			h.ChapterPages = append(h.ChapterPages, uint32(v))
			data = data[n:]
		case fieldPadding:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, tonieerr.Wrap(tonieerr.KindHeaderParseFailed, "padding", protowire.ParseError(n))
			}
			h.Padding = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, tonieerr.Wrap(tonieerr.KindHeaderParseFailed, "skip unknown field", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return h, nil
}

// EncodeRegion serializes h into the fixed-size header region: a 4-byte
// big-endian length followed by the protobuf body, zero-padded so the
// whole region is exactly headerRegionSize bytes. The Padding field
// itself is grown/shrunk to make the arithmetic exact, mirroring how the
// reference encoder reserves slack for the header to grow without moving
// the audio stream that follows it.
func (h *Header) EncodeRegion() ([]byte, error) {
	h.Padding = nil
	baseLen := len(h.Marshal())
	tagSize := protowire.SizeTag(fieldPadding)

	// Solve for a padding length whose own tag+length-prefix overhead,
	// added to the rest of the body, fills the region exactly. The
	// varint length prefix's size depends on the value it encodes, so
	// iterate the couple of times it takes to converge.
	padLen := headerRegionSize - 4 - baseLen - tagSize - 1
	for {
		if padLen < 0 {
			return nil, tonieerr.New(tonieerr.KindHeaderLengthMismatch,
				fmt.Sprintf("header body %d bytes leaves no room for padding in %d-byte region", baseLen, headerRegionSize))
		}
		need := headerRegionSize - 4 - baseLen - tagSize - protowire.SizeVarint(uint64(padLen))
		if need == padLen {
			break
		}
		padLen = need
	}
	h.Padding = make([]byte, padLen)

	body := h.Marshal()
	if len(body) != headerRegionSize-4 {
		return nil, tonieerr.New(tonieerr.KindHeaderLengthMismatch,
			fmt.Sprintf("encoded header body is %d bytes, want %d", len(body), headerRegionSize-4))
	}

	region := make([]byte, headerRegionSize)
	region[0] = byte(len(body) >> 24)
	region[1] = byte(len(body) >> 16)
	region[2] = byte(len(body) >> 8)
	region[3] = byte(len(body))
	copy(region[4:], body)
	return region, nil
}

// DecodeRegion reads the length-prefixed header out of the first
// headerRegionSize bytes of a container.
func DecodeRegion(region []byte) (*Header, error) {
	if len(region) < 4 {
		return nil, tonieerr.New(tonieerr.KindHeaderParseFailed, "region too short for length prefix")
	}
	length := uint32(region[0])<<24 | uint32(region[1])<<16 | uint32(region[2])<<8 | uint32(region[3])
	if int(4+length) > len(region) {
		return nil, tonieerr.New(tonieerr.KindHeaderLengthMismatch,
			fmt.Sprintf("declared length %d exceeds region size %d", length, len(region)-4))
	}
	return ParseHeader(region[4 : 4+length])
}
