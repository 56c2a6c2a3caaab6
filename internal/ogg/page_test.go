package ogg

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/rubiojr/tonietool/internal/opus"
)

// celtPacket builds a raw single-frame CELT packet (config 18, 10ms,
// mono, framepacking 0) with the given payload tail.
func celtPacket(payload []byte) []byte {
	toc := byte(18 << 3)
	return append([]byte{toc}, payload...)
}

func newAudioPage(segNo uint32, packets ...[]byte) *Page {
	p := &Page{
		Version:  0,
		PageType: 0,
		SerialNo: 0x1234,
		PageNo:   segNo,
	}
	for _, data := range packets {
		pkt, err := opus.New(bytes.NewReader(data), len(data), -1, false)
		if err != nil {
			panic(err)
		}
		p.Segments = append(p.Segments, pkt)
	}
	return p
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := bytes.NewReader(bytes.Repeat([]byte{0}, 27))
	if _, err := Parse(buf); err == nil {
		t.Fatalf("Parse() error = nil, want invalid magic error")
	}
}

func TestParseAlignedSkipsLeadingGarbage(t *testing.T) {
	page := newAudioPage(2, celtPacket([]byte("hi")))
	if _, err := page.CorrectValues(0); err != nil {
		t.Fatalf("CorrectValues() error = %v", err)
	}

	var buf bytes.Buffer
	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00})
	if err := page.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	br := bufio.NewReader(bytes.NewReader(buf.Bytes()))
	got, err := ParseAligned(br)
	if err != nil {
		t.Fatalf("ParseAligned() error = %v", err)
	}
	if got.PageNo != page.PageNo || got.SerialNo != page.SerialNo {
		t.Fatalf("ParseAligned() = %+v, want page no %d serial %x", got, page.PageNo, page.SerialNo)
	}
}

func TestParseAlignedReusesBufferAcrossCalls(t *testing.T) {
	var buf bytes.Buffer
	for pn := uint32(2); pn < 4; pn++ {
		page := newAudioPage(pn, celtPacket([]byte("xx")))
		if _, err := page.CorrectValues(0); err != nil {
			t.Fatalf("CorrectValues() error = %v", err)
		}
		if err := page.Write(&buf); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	br := bufio.NewReader(bytes.NewReader(buf.Bytes()))
	first, err := ParseAligned(br)
	if err != nil {
		t.Fatalf("ParseAligned() first call error = %v", err)
	}
	second, err := ParseAligned(br)
	if err != nil {
		t.Fatalf("ParseAligned() second call error = %v", err)
	}
	if first.PageNo != 2 || second.PageNo != 3 {
		t.Fatalf("page numbers = %d, %d, want 2, 3", first.PageNo, second.PageNo)
	}

	if _, err := ParseAligned(br); err != io.EOF {
		t.Fatalf("ParseAligned() at end = %v, want io.EOF", err)
	}
}

func TestWriteThenParseRoundTrip(t *testing.T) {
	page := newAudioPage(2, celtPacket([]byte("hello")))
	if _, err := page.CorrectValues(0); err != nil {
		t.Fatalf("CorrectValues() error = %v", err)
	}

	var buf bytes.Buffer
	if err := page.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := Parse(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got.SerialNo != page.SerialNo {
		t.Fatalf("SerialNo = %x, want %x", got.SerialNo, page.SerialNo)
	}
	if got.PageNo != page.PageNo {
		t.Fatalf("PageNo = %d, want %d", got.PageNo, page.PageNo)
	}
	if got.Checksum != page.Checksum {
		t.Fatalf("Checksum = %d, want %d", got.Checksum, page.Checksum)
	}
	if len(got.Segments) != 1 || !bytes.Equal(got.Segments[0].Data, page.Segments[0].Data) {
		t.Fatalf("segments mismatch: %+v", got.Segments)
	}
	if got.GranulePosition != page.GranulePosition {
		t.Fatalf("GranulePosition = %d, want %d", got.GranulePosition, page.GranulePosition)
	}
}

func TestCorrectValuesSkipsGranuleOnHeaderPages(t *testing.T) {
	page := newAudioPage(0, celtPacket([]byte("xx")))
	granule, err := page.CorrectValues(1000)
	if err != nil {
		t.Fatalf("CorrectValues() error = %v", err)
	}
	if granule != 1000 {
		t.Fatalf("granule = %d, want 1000 (unchanged on header page)", granule)
	}
}

func TestCorrectValuesAccumulatesGranule(t *testing.T) {
	page := newAudioPage(2, celtPacket([]byte("xx")))
	granule, err := page.CorrectValues(1000)
	if err != nil {
		t.Fatalf("CorrectValues() error = %v", err)
	}
	want := uint64(1000 + 480) // config 18 -> 10ms -> 480 samples/frame
	if granule != want {
		t.Fatalf("granule = %d, want %d", granule, want)
	}
}

func TestPadGrowsPageToExactSize(t *testing.T) {
	page := newAudioPage(2, celtPacket(bytes.Repeat([]byte{0x42}, 4)))
	if _, err := page.CorrectValues(0); err != nil {
		t.Fatalf("CorrectValues() error = %v", err)
	}

	before := page.GetPageSize()
	target := before + 7

	if err := page.Pad(target, -1); err != nil {
		t.Fatalf("Pad() error = %v", err)
	}
	if got := page.GetPageSize(); got != target {
		t.Fatalf("GetPageSize() = %d, want %d", got, target)
	}

	if _, err := page.CorrectValues(0); err != nil {
		t.Fatalf("CorrectValues() after pad error = %v", err)
	}

	var buf bytes.Buffer
	if err := page.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if buf.Len() != target {
		t.Fatalf("written size = %d, want %d", buf.Len(), target)
	}

	reparsed, err := Parse(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("re-parse error = %v", err)
	}
	total := 0
	for _, s := range reparsed.Segments {
		total += len(s.Data)
	}
	if got := 27 + len(reparsed.Segments) + total; got != target {
		t.Fatalf("re-parsed size = %d, want %d", got, target)
	}
}

func TestPadNoOpWhenAlreadyAtTarget(t *testing.T) {
	page := newAudioPage(2, celtPacket([]byte("abcd")))
	if _, err := page.CorrectValues(0); err != nil {
		t.Fatalf("CorrectValues() error = %v", err)
	}
	size := page.GetPageSize()

	if err := page.Pad(size, -1); err != nil {
		t.Fatalf("Pad() error = %v", err)
	}
	if got := page.GetPageSize(); got != size {
		t.Fatalf("GetPageSize() = %d, want unchanged %d", got, size)
	}
}

func TestSegmentCountOfPacketAtSpansContinuations(t *testing.T) {
	full := celtPacket(bytes.Repeat([]byte{0x01}, 300)) // 301 bytes total
	first, err := opus.New(bytes.NewReader(full[:255]), 255, -1, false)
	if err != nil {
		t.Fatalf("opus.New(first) error = %v", err)
	}
	rest := full[255:]
	second, err := opus.New(bytes.NewReader(rest), len(rest), 255, false)
	if err != nil {
		t.Fatalf("opus.New(second) error = %v", err)
	}

	page := &Page{PageNo: 2, SerialNo: 1, Segments: []*opus.Packet{first, second}}

	if got := page.SegmentCountOfFirstOpusPacket(); got != 2 {
		t.Fatalf("SegmentCountOfFirstOpusPacket() = %d, want 2", got)
	}
	if got := page.SizeOfFirstOpusPacket(); got != 301 {
		t.Fatalf("SizeOfFirstOpusPacket() = %d, want 301", got)
	}
}
