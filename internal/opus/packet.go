// Package opus models a single Opus packet as carried inside one Ogg
// segment, including the table-of-contents byte and the code-3
// frame-packing metadata the page-resizing pipeline needs to rewrite.
//
// Only CELT-only configurations (TOC config values 16-31) are understood;
// this mirrors the target device's own restriction and lets frame size and
// granule contribution be read directly off the config value without
// decoding any audio.
package opus

import (
	"fmt"
	"io"

	"github.com/rubiojr/tonietool/internal/tonieerr"
)

// FramePacking is the low two bits of the Opus TOC byte (RFC 6716 §3.1).
type FramePacking uint8

const (
	FramePackingOneFrame        FramePacking = 0
	FramePackingTwoEqualFrames  FramePacking = 1
	FramePackingTwoVBRFrames    FramePacking = 2
	FramePackingArbitraryFrames FramePacking = 3

	// framePackingUnset marks a packet whose segment-info has not been
	// parsed (header pages, or segments that don't begin a packet).
	framePackingUnset FramePacking = 0xFF
)

// Packet holds the bytes of one Ogg segment plus the Opus-layer attributes
// derived from it when the segment begins a new logical Opus packet.
type Packet struct {
	Data            []byte
	Size            int
	SpanningPacket  bool
	FirstPacket     bool
	infoParsed      bool
	ConfigValue     uint8
	Stereo          bool
	FramePacking    FramePacking
	Padding         uint32
	FrameCount      uint32
	FrameSizeMs     float64
	Granule         uint64
}

// New builds a Packet from the next size bytes of r. lastSize is the size
// of the previous segment in the same page (or -1 if there is none);
// dontParseInfo suppresses TOC parsing for the identification/comment
// pages, whose segments are not Opus audio packets.
func New(r io.Reader, size, lastSize int, dontParseInfo bool) (*Packet, error) {
	p := &Packet{
		Size:         size,
		FramePacking: framePackingUnset,
	}
	if r == nil {
		p.Data = nil
		return p, nil
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read opus segment: %w", err)
	}
	p.Data = buf
	p.SpanningPacket = size == 255
	p.FirstPacket = lastSize != 255

	if p.FirstPacket && !dontParseInfo {
		if err := p.parseSegmentInfo(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Empty returns a zero-length synthetic segment, used by the page resizer
// when redistributing packet bytes across a new segment table.
func Empty(firstPacket, spanningPacket bool) *Packet {
	return &Packet{
		Data:           nil,
		Size:           0,
		FirstPacket:    firstPacket,
		SpanningPacket: spanningPacket,
		FramePacking:   framePackingUnset,
	}
}

func (p *Packet) parseSegmentInfo() error {
	if len(p.Data) == 0 {
		return fmt.Errorf("opus segment: empty data")
	}

	toc := p.Data[0]
	p.ConfigValue = toc >> 3
	p.Stereo = (toc & 0x04) != 0
	p.FramePacking = FramePacking(toc & 0x03)
	p.infoParsed = true

	p.FrameCount = p.computeFrameCount()
	p.Padding = p.computePadding()

	frameSizeMs, err := frameSizeMsForConfig(p.ConfigValue)
	if err != nil {
		return err
	}
	p.FrameSizeMs = frameSizeMs
	p.Granule = uint64(frameSizeMs * float64(p.FrameCount) * 48)

	return nil
}

func (p *Packet) computeFrameCount() uint32 {
	switch p.FramePacking {
	case FramePackingOneFrame:
		return 1
	case FramePackingTwoEqualFrames, FramePackingTwoVBRFrames:
		return 2
	case FramePackingArbitraryFrames:
		if len(p.Data) >= 2 {
			return uint32(p.Data[1] & 0x3F)
		}
		return 0
	}
	return 0
}

// computePadding decodes the code-3 padding-length sequence (a run of 0xFF
// continuation bytes terminated by a byte < 255) per RFC 6716 §3.2.5.
func (p *Packet) computePadding() uint32 {
	if p.FramePacking != FramePackingArbitraryFrames {
		return 0
	}
	if len(p.Data) < 3 {
		return 0
	}
	isPadded := (p.Data[1] >> 6) & 1
	if isPadded == 0 {
		return 0
	}

	total := uint32(p.Data[2])
	padding := p.Data[2]
	i := 3
	for padding == 255 && i < len(p.Data) {
		padding = p.Data[i]
		total = total + uint32(padding) - 1
		i++
	}
	return total
}

// frameSizeMsForConfig maps a CELT-only TOC config value to its frame
// duration. Config values outside [16,31] are SILK or Hybrid encodings,
// which the target device (and this tool) cannot accept.
func frameSizeMsForConfig(config uint8) (float64, error) {
	if config < 16 || config > 31 {
		return 0, tonieerr.New(tonieerr.KindUnsupportedOpusConfig,
			fmt.Sprintf("config value %d (CELT-only 16-31 required)", config))
	}
	switch config % 4 {
	case 0:
		return 2.5, nil
	case 1:
		return 5, nil
	case 2:
		return 10, nil
	default:
		return 20, nil
	}
}

// ConvertToFramepackingThree rewrites the packet's TOC and inserts a
// frame-count byte so that it uses code 3 (arbitrary frame count),
// without altering the audio payload. It is a no-op if already code 3.
func (p *Packet) ConvertToFramepackingThree() {
	if p.FramePacking == FramePackingArbitraryFrames {
		return
	}

	toc := p.Data[0] | 0x03

	frameCountByte := byte(p.FrameCount)
	if p.FramePacking == FramePackingTwoVBRFrames {
		frameCountByte |= 0x80 // vbr flag carried over
	}

	newData := make([]byte, 0, len(p.Data)+1)
	newData = append(newData, toc, frameCountByte)
	newData = append(newData, p.Data[1:]...)

	p.Data = newData
	p.FramePacking = FramePackingArbitraryFrames
}

// SetPadCount marks the packet (which must already be code 3) as carrying
// count bytes of in-band padding, encoding the variable-length
// padding-count field per RFC 6716 §3.2.5. It fails if the packet already
// carries padding; growing existing padding is not supported.
func (p *Packet) SetPadCount(count uint32) error {
	if p.FramePacking != FramePackingArbitraryFrames {
		return fmt.Errorf("%w: only code 3 packets can carry padding", ErrNotFramepackingThree)
	}
	if p.Padding != 0 {
		return tonieerr.New(tonieerr.KindPacketAlreadyPadded, "packet already carries padding")
	}

	frameCountByte := p.Data[1] | 0x40

	var padCountBytes []byte
	remaining := count
	for remaining > 254 {
		padCountBytes = append(padCountBytes, 0xFF)
		remaining -= 254
	}
	padCountBytes = append(padCountBytes, byte(remaining))

	newData := make([]byte, 0, len(p.Data)+len(padCountBytes))
	newData = append(newData, p.Data[0], frameCountByte)
	newData = append(newData, padCountBytes...)
	newData = append(newData, p.Data[2:]...)

	p.Data = newData
	return nil
}

// ErrNotFramepackingThree reports a SetPadCount call on a packet that
// hasn't been converted to code 3 yet.
var ErrNotFramepackingThree = fmt.Errorf("packet is not framepacking 3")

// Write emits the packet's raw bytes (its Ogg segment payload).
func (p *Packet) Write(w io.Writer) error {
	if len(p.Data) == 0 {
		return nil
	}
	_, err := w.Write(p.Data)
	return err
}
