package opus

import (
	"bytes"
	"testing"
)

func TestNewParsesCode0Packet(t *testing.T) {
	// config 18 (CELT, 10ms), mono, framepacking 0 (single frame).
	toc := byte(18<<3) | 0x00
	data := append([]byte{toc}, []byte("payload")...)

	p, err := New(bytes.NewReader(data), len(data), -1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !p.FirstPacket {
		t.Fatalf("FirstPacket = false, want true")
	}
	if p.FrameCount != 1 {
		t.Fatalf("FrameCount = %d, want 1", p.FrameCount)
	}
	if p.FrameSizeMs != 10 {
		t.Fatalf("FrameSizeMs = %v, want 10", p.FrameSizeMs)
	}
	if p.Granule != 480 {
		t.Fatalf("Granule = %d, want 480", p.Granule)
	}
	if p.Stereo {
		t.Fatalf("Stereo = true, want false")
	}
}

func TestNewComputesGranuleForFractionalFrameSize(t *testing.T) {
	// config 16 (CELT, 2.5ms), mono, framepacking 0 (single frame): the
	// frame size is fractional, so the granule math must multiply the
	// float frame size by frame count and 48 in one product rather than
	// truncating the frame-size/frame-count product to an int first.
	toc := byte(16 << 3)
	data := append([]byte{toc}, []byte("x")...)

	p, err := New(bytes.NewReader(data), len(data), -1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.FrameSizeMs != 2.5 {
		t.Fatalf("FrameSizeMs = %v, want 2.5", p.FrameSizeMs)
	}
	if p.Granule != 120 {
		t.Fatalf("Granule = %d, want 120", p.Granule)
	}
}

func TestNewRejectsNonCeltConfig(t *testing.T) {
	toc := byte(4 << 3) // SILK config, not CELT-only
	data := []byte{toc, 0x00}

	_, err := New(bytes.NewReader(data), len(data), -1, false)
	if err == nil {
		t.Fatalf("New() error = nil, want unsupported config error")
	}
}

func TestSpanningPacketNotParsed(t *testing.T) {
	// A 255-byte segment that continues the previous segment's packet is
	// not parsed, so its all-zero (non-CELT) first byte is not rejected.
	data := make([]byte, 255)
	p, err := New(bytes.NewReader(data), 255, 255, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !p.SpanningPacket {
		t.Fatalf("SpanningPacket = false, want true")
	}
}

func TestConvertToFramepackingThreeFromCode0(t *testing.T) {
	toc := byte(19 << 3) // config 19 (20ms), framepacking 0
	data := append([]byte{toc}, []byte("xyz")...)

	p, err := New(bytes.NewReader(data), len(data), -1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p.ConvertToFramepackingThree()

	if p.FramePacking != FramePackingArbitraryFrames {
		t.Fatalf("FramePacking = %d, want 3", p.FramePacking)
	}
	if p.Data[0]&0x03 != 0x03 {
		t.Fatalf("TOC low bits = %d, want 3", p.Data[0]&0x03)
	}
	if p.Data[1] != 1 {
		t.Fatalf("frame count byte = %d, want 1", p.Data[1])
	}
	if !bytes.Equal(p.Data[2:], []byte("xyz")) {
		t.Fatalf("payload corrupted: %v", p.Data[2:])
	}
}

func TestSetPadCountSmall(t *testing.T) {
	toc := byte(16<<3) | 0x03 // config 16 (2.5ms), framepacking 3
	data := []byte{toc, 0x01, 'a', 'b'}

	p, err := New(bytes.NewReader(data), len(data), -1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Padding != 0 {
		t.Fatalf("Padding = %d, want 0", p.Padding)
	}

	if err := p.SetPadCount(10); err != nil {
		t.Fatalf("SetPadCount() error = %v", err)
	}

	if p.Data[1]&0x40 == 0 {
		t.Fatalf("padding flag not set in frame count byte")
	}
	if p.Data[2] != 10 {
		t.Fatalf("pad count byte = %d, want 10", p.Data[2])
	}
}

func TestSetPadCountWithContinuation(t *testing.T) {
	toc := byte(16<<3) | 0x03
	data := []byte{toc, 0x01, 'a'}

	p, err := New(bytes.NewReader(data), len(data), -1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := p.SetPadCount(300); err != nil {
		t.Fatalf("SetPadCount() error = %v", err)
	}

	// 300 = 254 + 46, so one 0xFF continuation byte then a final 46 byte.
	if p.Data[2] != 0xFF {
		t.Fatalf("first pad-count byte = %x, want 0xFF", p.Data[2])
	}
	if p.Data[3] != 46 {
		t.Fatalf("second pad-count byte = %d, want 46", p.Data[3])
	}

	reread, err := New(bytes.NewReader(p.Data), len(p.Data), -1, false)
	if err != nil {
		t.Fatalf("re-parse error = %v", err)
	}
	if reread.Padding != 300 {
		t.Fatalf("round-tripped Padding = %d, want 300", reread.Padding)
	}
}

func TestSetPadCountRejectsAlreadyPadded(t *testing.T) {
	toc := byte(16<<3) | 0x03
	data := []byte{toc, 0x41, 0x05, 'a', 'b', 'c', 'd', 'e'}

	p, err := New(bytes.NewReader(data), len(data), -1, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Padding != 5 {
		t.Fatalf("Padding = %d, want 5", p.Padding)
	}

	if err := p.SetPadCount(10); err == nil {
		t.Fatalf("SetPadCount() error = nil, want error for already-padded packet")
	}
}
