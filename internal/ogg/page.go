// Package ogg implements the subset of the Ogg bitstream format needed to
// read, resize and rewrite an Opus-in-Ogg stream page by page: page
// parsing, checksum verification, and the segment-table surgery the
// container writer needs to pad a page out to an exact byte size.
package ogg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rubiojr/tonietool/internal/crc"
	"github.com/rubiojr/tonietool/internal/opus"
	"github.com/rubiojr/tonietool/internal/tonieerr"
)

const (
	headerSize  = 27
	magic       = "OggS"
	maxSegments = 255
)

// pageSync is the Ogg page synchronization pattern: the "OggS" magic
// followed by the version byte, which is always 0.
var pageSync = []byte(magic + "\x00")

// Sentinel results from calcActualPaddingValue: the three cases where a
// plain padding count on the target packet can't hit the requested page
// size on its own.
const (
	actionDoNothing            = -1
	actionOnlyConvertFramepack = -2
	actionOtherPacketNeeded    = -3
	actionTooManySegments      = -4
)

// PageType flags, OR'd together in the header's page_type byte.
const (
	PageContinuation byte = 1
	PageBOS          byte = 2
	PageEOS          byte = 4
)

// Page is one Ogg page: a header, a segment table, and the packet data the
// table describes, modeled one *opus.Packet per segment.
type Page struct {
	Version         uint8
	PageType        byte
	GranulePosition uint64
	SerialNo        uint32
	PageNo          uint32
	Checksum        uint32
	Segments        []*opus.Packet
}

// SeekToPageHeader scans r for the 5-byte page synchronization pattern
// "OggS\0", discarding any bytes found before it, and returns a reader
// positioned so the next read begins at that page header. r must be a
// *bufio.Reader when the caller needs to call SeekToPageHeader or
// ParseAligned on the same stream more than once: a fresh bufio.Reader
// wrapping r each time would throw away whatever it had already
// buffered ahead. It returns io.EOF when no bytes remain in the stream;
// if bytes remain but none of them starts a sync pattern, it returns an
// OggPageTruncated error instead.
func SeekToPageHeader(r io.Reader) (io.Reader, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	for {
		peek, err := br.Peek(len(pageSync))
		if bytes.Equal(peek, pageSync) {
			return br, nil
		}
		if err != nil {
			if len(peek) == 0 {
				return nil, io.EOF
			}
			return nil, tonieerr.Wrap(tonieerr.KindOggPageTruncated, "seek to page header", err)
		}
		if _, err := br.Discard(1); err != nil {
			return nil, tonieerr.Wrap(tonieerr.KindOggPageTruncated, "seek to page header", err)
		}
	}
}

// ParseAligned resynchronizes r to the next page header via
// SeekToPageHeader before parsing, for callers walking a stream that
// might carry leading garbage ahead of the pages they want (the way the
// reference converter resyncs before every page read rather than
// trusting strict back-to-back framing). As with SeekToPageHeader, pass
// the same reader value back in on every call so buffered lookahead
// isn't discarded between pages.
func ParseAligned(r io.Reader) (*Page, error) {
	aligned, err := SeekToPageHeader(r)
	if err != nil {
		return nil, err
	}
	return Parse(aligned)
}

// Parse reads one page from r. Header-page parsing (page numbers 0 and 1,
// the identification and comment pages) skips Opus TOC validation, since
// those segments aren't audio packets.
func Parse(r io.Reader) (*Page, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read page header", err)
	}
	if string(hdr[0:4]) != magic {
		return nil, tonieerr.New(tonieerr.KindInvalidOggMagic, fmt.Sprintf("got %q", hdr[0:4]))
	}

	p := &Page{
		Version:         hdr[4],
		PageType:        hdr[5],
		GranulePosition: binary.LittleEndian.Uint64(hdr[6:14]),
		SerialNo:        binary.LittleEndian.Uint32(hdr[14:18]),
		PageNo:          binary.LittleEndian.Uint32(hdr[18:22]),
		Checksum:        binary.LittleEndian.Uint32(hdr[22:26]),
	}
	segCount := int(hdr[26])
	dontParseInfo := p.PageNo == 0 || p.PageNo == 1

	segTable := make([]byte, segCount)
	if _, err := io.ReadFull(r, segTable); err != nil {
		return nil, tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read segment table", err)
	}

	lastSize := -1
	for i := 0; i < segCount; i++ {
		size := int(segTable[i])
		pkt, err := opus.New(r, size, lastSize, dontParseInfo)
		if err != nil {
			return nil, err
		}
		p.Segments = append(p.Segments, pkt)
		lastSize = size
	}

	if n := len(p.Segments); n > 0 && p.Segments[n-1].SpanningPacket {
		return nil, tonieerr.New(tonieerr.KindPacketSpansPages, "trailing segment may not span pages")
	}

	return p, nil
}

// FromTemplate clones another page's framing fields (version, page type,
// granule position, serial number, page number) with an empty segment
// table, the way a fresh audio page inherits its predecessor's stream
// identity before new packets are appended to it.
func FromTemplate(tmpl *Page) *Page {
	return &Page{
		Version:         tmpl.Version,
		PageType:        tmpl.PageType,
		GranulePosition: tmpl.GranulePosition,
		SerialNo:        tmpl.SerialNo,
		PageNo:          tmpl.PageNo,
	}
}

// GetPageSize returns the total on-disk size of the page: header, segment
// table, and all segment payloads.
func (p *Page) GetPageSize() int {
	size := headerSize + len(p.Segments)
	for _, s := range p.Segments {
		size += len(s.Data)
	}
	return size
}

// segmentCountOfPacketAt returns how many consecutive segments, starting
// at segStart, belong to the logical Opus packet beginning there: itself
// plus every following segment not marked as starting its own packet.
func (p *Page) segmentCountOfPacketAt(segStart int) int {
	segEnd := segStart + 1
	for segEnd < len(p.Segments) && !p.Segments[segEnd].FirstPacket {
		segEnd++
	}
	return segEnd - segStart
}

// opusPacketSizeAt returns the total payload size, in bytes, of the
// logical Opus packet starting at segStart.
func (p *Page) opusPacketSizeAt(segStart int) int {
	size := len(p.Segments[segStart].Data)
	current := segStart + 1
	for current < len(p.Segments) && !p.Segments[current].FirstPacket {
		size += len(p.Segments[current].Data)
		current++
	}
	return size
}

// SizeOfFirstOpusPacket and SegmentCountOfFirstOpusPacket describe the
// packet at the start of the page, which is what the resize pipeline
// grows the page around.
func (p *Page) SizeOfFirstOpusPacket() int {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.opusPacketSizeAt(0)
}

func (p *Page) SegmentCountOfFirstOpusPacket() int {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.segmentCountOfPacketAt(0)
}

// PacketSizeAt and PacketSegmentCountAt describe the logical Opus packet
// beginning at an arbitrary segment index, for callers (the stream
// rewriter's resize pipeline) that walk a source page packet by packet
// rather than only looking at the first one.
func (p *Page) PacketSizeAt(segStart int) int {
	return p.opusPacketSizeAt(segStart)
}

func (p *Page) PacketSegmentCountAt(segStart int) int {
	return p.segmentCountOfPacketAt(segStart)
}

// AppendPacket appends every segment of the logical packet starting at
// segStart in src onto this page, used while accumulating packets from
// source pages into a freshly sized output page.
func (p *Page) AppendPacket(src *Page, segStart int) {
	count := src.segmentCountOfPacketAt(segStart)
	for i := segStart; i < segStart+count; i++ {
		p.Segments = append(p.Segments, src.Segments[i])
	}
}

// insertEmptySegment inserts a zero-length segment right after index
// afterIdx, used when redistributing packet bytes across new 255-byte
// boundaries leaves a remainder that needs its own segment slot.
func (p *Page) insertEmptySegment(afterIdx int, spanningPacket, firstPacket bool) {
	empty := opus.Empty(firstPacket, spanningPacket)
	idx := afterIdx + 1
	if idx >= len(p.Segments) {
		p.Segments = append(p.Segments, empty)
		return
	}
	p.Segments = append(p.Segments, nil)
	copy(p.Segments[idx+1:], p.Segments[idx:])
	p.Segments[idx] = empty
}

// redistributePacketDataAt concatenates the packet starting at segStart
// with padCount zero bytes, then re-splits the result across 255-byte
// segments (plus a final short segment, and an extra empty trailing
// segment if the total is an exact multiple of 255 so a reader doesn't
// mistake the last full segment for a continuation).
func (p *Page) redistributePacketDataAt(segStart, padCount int) error {
	segCount := p.segmentCountOfPacketAt(segStart)

	var fullData []byte
	for i := 0; i < segCount; i++ {
		fullData = append(fullData, p.Segments[segStart+i].Data...)
	}
	fullData = append(fullData, make([]byte, padCount)...)
	size := len(fullData)

	if size < 255 {
		p.Segments[segStart].Data = fullData
		p.Segments[segStart].Size = size
		return nil
	}

	neededSegCount := size / 255
	if size%255 != 0 {
		neededSegCount++
	}
	if size%255 == 0 {
		neededSegCount++
	}

	if neededSegCount-segCount+len(p.Segments) > maxSegments {
		return tonieerr.New(tonieerr.KindTooManySegments, "redistribution exceeds 255 segments")
	}

	segmentsToCreate := neededSegCount - segCount
	for i := 0; i < segmentsToCreate; i++ {
		p.insertEmptySegment(segStart+segCount-1+i, i != segmentsToCreate-1, false)
	}

	remaining := fullData
	for i := 0; i < neededSegCount; i++ {
		chunkSize := 255
		if len(remaining) < chunkSize {
			chunkSize = len(remaining)
		}
		p.Segments[segStart+i].Data = remaining[:chunkSize]
		p.Segments[segStart+i].Size = chunkSize
		remaining = remaining[chunkSize:]
	}

	return nil
}

// convertPacketToFramepackingThreeAndPad converts the packet at segStart
// to code 3 (a no-op if it already is) and, when pad is true, gives it
// count bytes of in-band padding, then redistributes the result across
// the segment table.
func (p *Page) convertPacketToFramepackingThreeAndPad(segStart int, pad bool, count int) error {
	pkt := p.Segments[segStart]
	pkt.ConvertToFramepackingThree()
	if pad {
		if err := pkt.SetPadCount(uint32(count)); err != nil {
			return err
		}
	}
	return p.redistributePacketDataAt(segStart, count)
}

// calcActualPaddingValue works out how many bytes of code-3 padding to add
// to the packet at segStart so the page grows by exactly bytesNeeded
// bytes, accounting for the extra bytes the frame-count byte and the
// padding-count field themselves consume. It returns one of the action*
// sentinels when a plain padding count can't achieve the target, or a
// non-negative byte count otherwise.
func (p *Page) calcActualPaddingValue(segStart, bytesNeeded int) int {
	segEnd := segStart + p.segmentCountOfPacketAt(segStart)
	sizeOfLastSegment := len(p.Segments[segEnd-1].Data)
	convertNeeded := p.Segments[segStart].FramePacking != opus.FramePackingArbitraryFrames

	if bytesNeeded == 0 {
		return actionDoNothing
	}
	if (bytesNeeded+sizeOfLastSegment)%255 == 0 {
		return actionOtherPacketNeeded
	}
	if bytesNeeded == 1 {
		if convertNeeded {
			return actionOnlyConvertFramepack
		}
		return 0
	}

	newSegmentsNeeded := 0
	if bytesNeeded+sizeOfLastSegment >= 255 {
		tmp := bytesNeeded + sizeOfLastSegment - 255
		for tmp >= 0 {
			tmp -= 256
			newSegmentsNeeded++
		}
	}

	if newSegmentsNeeded+len(p.Segments) > maxSegments {
		return actionTooManySegments
	}
	if (bytesNeeded+sizeOfLastSegment)%255 == newSegmentsNeeded-1 {
		return actionOtherPacketNeeded
	}

	packetBytesNeeded := bytesNeeded - newSegmentsNeeded
	if packetBytesNeeded == 1 {
		if convertNeeded {
			return actionOnlyConvertFramepack
		}
		return 0
	}

	if convertNeeded {
		packetBytesNeeded-- // frame count byte
	}
	packetBytesNeeded-- // padding-count field is at least 1 byte

	sizeOfPadCountData := ceilDiv(packetBytesNeeded, 254)
	if sizeOfPadCountData < 1 {
		sizeOfPadCountData = 1
	}
	checkSize := ceilDiv(packetBytesNeeded-sizeOfPadCountData+1, 254)
	if checkSize != sizeOfPadCountData {
		return actionOtherPacketNeeded
	}
	return packetBytesNeeded - sizeOfPadCountData + 1
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Pad grows the page to exactly padTo bytes by padding the Opus packet
// containing segment idxOffset (walking back to wherever that packet
// actually starts); pass -1 to start from the page's last segment. It
// recurses onto an earlier packet when the target can't be hit by padding
// this one alone (OTHER_PACKET_NEEDED steals a byte from pad_one_byte
// first; TOO_MANY_SEGMENTS splits the work between an earlier packet and
// a second pass back to the full target).
func (p *Page) Pad(padTo, idxOffset int) error {
	if len(p.Segments) == 0 {
		return tonieerr.New(tonieerr.KindPaddingImpossible, "page has no segments")
	}

	idx := idxOffset
	if idx < 0 {
		idx = len(p.Segments) - 1
	}
	for idx > 0 && !p.Segments[idx].FirstPacket {
		idx--
	}
	if !p.Segments[idx].FirstPacket {
		return tonieerr.New(tonieerr.KindPaddingImpossible, "could not find start of packet")
	}

	bytesNeeded := padTo - p.GetPageSize()
	if bytesNeeded < 0 {
		return tonieerr.New(tonieerr.KindPaddingImpossible, "page already larger than target size")
	}

	action := p.calcActualPaddingValue(idx, bytesNeeded)

	switch action {
	case actionDoNothing:
		return nil
	case actionOnlyConvertFramepack:
		return p.convertPacketToFramepackingThreeAndPad(idx, false, 0)
	case actionOtherPacketNeeded:
		if err := p.PadOneByte(); err != nil {
			return err
		}
		return p.Pad(padTo, -1)
	case actionTooManySegments:
		if idx == 0 {
			return tonieerr.New(tonieerr.KindTooManySegments, "no earlier packet to redistribute padding onto")
		}
		if err := p.Pad(padTo-bytesNeeded/2, idx-1); err != nil {
			return err
		}
		return p.Pad(padTo, -1)
	default:
		return p.convertPacketToFramepackingThreeAndPad(idx, true, action)
	}
}

// PadOneByte grows the page by exactly one byte by finding the first
// not-yet-padded packet whose size mod 255 leaves room for one more byte
// without crossing a segment boundary. A packet that is not yet code 3 is
// converted to code 3, and the inserted frame-count byte is the one byte;
// a packet that already is code 3 gets a zero-length padding directive,
// whose padding-count byte is the one byte.
func (p *Page) PadOneByte() error {
	for i := 0; i < len(p.Segments); i++ {
		seg := p.Segments[i]
		if seg.FirstPacket && seg.Padding == 0 && p.opusPacketSizeAt(i)%255 < 254 {
			alreadyFramepackingThree := seg.FramePacking == opus.FramePackingArbitraryFrames
			return p.convertPacketToFramepackingThreeAndPad(i, alreadyFramepackingThree, 0)
		}
	}
	return tonieerr.New(tonieerr.KindPaddingImpossible, "no packet available to absorb one byte of padding")
}

// CorrectValues recomputes the page's cumulative granule position (the
// identification and comment pages, 0 and 1, never contribute) and its
// checksum. lastGranule is the running total carried over from the
// previous page; the returned value becomes the next call's lastGranule.
func (p *Page) CorrectValues(lastGranule uint64) (uint64, error) {
	if len(p.Segments) > maxSegments {
		return 0, tonieerr.New(tonieerr.KindTooManySegments, fmt.Sprintf("%d segments", len(p.Segments)))
	}

	var granule uint64
	if p.PageNo != 0 && p.PageNo != 1 {
		for _, seg := range p.Segments {
			if seg.FirstPacket {
				granule += seg.Granule
			}
		}
	}
	p.GranulePosition = lastGranule + granule
	p.Checksum = p.calcChecksum()
	return p.GranulePosition, nil
}

// calcChecksum computes the page's CRC over the header (with the checksum
// field zeroed), the segment table, and every segment's payload bytes.
func (p *Page) calcChecksum() uint32 {
	sum := crc.Checksum(p.encodeHeader(0))
	return crc.Update(sum, p.encodePayload())
}

func (p *Page) encodeHeader(checksum uint32) []byte {
	buf := make([]byte, headerSize+len(p.Segments))
	copy(buf[0:4], magic)
	buf[4] = p.Version
	buf[5] = p.PageType
	binary.LittleEndian.PutUint64(buf[6:14], p.GranulePosition)
	binary.LittleEndian.PutUint32(buf[14:18], p.SerialNo)
	binary.LittleEndian.PutUint32(buf[18:22], p.PageNo)
	binary.LittleEndian.PutUint32(buf[22:26], checksum)
	buf[26] = byte(len(p.Segments))
	for i, seg := range p.Segments {
		buf[headerSize+i] = byte(len(seg.Data))
	}
	return buf
}

func (p *Page) encodePayload() []byte {
	var buf []byte
	for _, seg := range p.Segments {
		buf = append(buf, seg.Data...)
	}
	return buf
}

// Write serializes the page: header, segment table, then every segment's
// payload, in order. Callers that need a running content hash of the
// written bytes (the container's data_hash, for instance) should wrap w
// in their own hashing writer rather than rely on Write to do it, since
// every byte passed to w here is the byte that ends up on disk.
func (p *Page) Write(w io.Writer) error {
	if _, err := w.Write(p.encodeHeader(p.Checksum)); err != nil {
		return tonieerr.Wrap(tonieerr.KindIO, "write page header", err)
	}
	if _, err := w.Write(p.encodePayload()); err != nil {
		return tonieerr.Wrap(tonieerr.KindIO, "write segment payloads", err)
	}
	return nil
}
