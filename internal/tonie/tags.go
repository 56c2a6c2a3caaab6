package tonie

import (
	"encoding/binary"

	"github.com/rubiojr/tonietool/internal/opus"
)

// commentVendor and commentTag are this tool's fixed OpusTags payload,
// built the same way the teacher's own makeOpusTags does (magic, LE
// length-prefixed vendor string, LE comment count, length-prefixed
// comments) rather than copied verbatim from any particular encoder.
const (
	commentVendor = "tonietool"
	commentTag    = "ENCODER=tonietool"
)

// buildCommentPayload returns the flat OpusTags packet bytes: the fixed
// vendor/comment content followed by zero padding so the total is
// exactly totalLen bytes. The caller is responsible for picking totalLen
// so that, once split into Ogg segments, the comment page combines with
// the identification page and the first audio page to hit the 4KiB
// block the container format requires.
func buildCommentPayload(totalLen int) []byte {
	var buf []byte
	buf = append(buf, "OpusTags"...)
	buf = appendUint32LE(buf, uint32(len(commentVendor)))
	buf = append(buf, commentVendor...)
	buf = appendUint32LE(buf, 1)
	buf = appendUint32LE(buf, uint32(len(commentTag)))
	buf = append(buf, commentTag...)

	if len(buf) > totalLen {
		// Fixed content alone doesn't fit; truncating would corrupt the
		// OpusTags structure, so this can only happen if the caller asked
		// for an unreasonably small page. Return it unpadded rather than
		// lie about the length.
		return buf
	}
	buf = append(buf, make([]byte, totalLen-len(buf))...)
	return buf
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// splitIntoSegments chunks a flat byte slice into Ogg segments of at
// most 255 bytes each, the same redistribution rule the page resizer
// uses for audio packets: a trailing chunk of exactly 255 bytes gets an
// extra empty segment appended so a reader doesn't mistake it for a
// packet that continues onto the next page.
func splitIntoSegments(data []byte, firstPacket bool) []*opus.Packet {
	if len(data) == 0 {
		return []*opus.Packet{opus.Empty(firstPacket, false)}
	}

	var segments []*opus.Packet
	remaining := data
	for len(remaining) >= 255 {
		chunk := remaining[:255]
		remaining = remaining[255:]
		segments = append(segments, &opus.Packet{
			Data:           chunk,
			Size:           len(chunk),
			FirstPacket:    firstPacket && len(segments) == 0,
			SpanningPacket: true,
		})
	}
	segments = append(segments, &opus.Packet{
		Data:           remaining,
		Size:           len(remaining),
		FirstPacket:    firstPacket && len(segments) == 0,
		SpanningPacket: false,
	})
	return segments
}
