package tonie

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/rubiojr/tonietool/internal/ogg"
	"github.com/rubiojr/tonietool/internal/tonieerr"
)

const (
	audioPageSize      = 0x1000
	firstAudioPageSize = 0xE00
	commentBlockSize   = 0x200 // id page + comment page together, block 0
)

// Rewriter consumes one or more source Opus-in-Ogg streams, track by
// track, and emits a single normalized stream whose audio pages are
// 4KiB-aligned (with a smaller first audio page) under a shared serial
// number. It mirrors the reference converter's Converter::create_tonie_file
// loop, split out so the container writer can drive it independently of
// file creation and header finalization.
type Rewriter struct {
	Timestamp    uint32
	nextPageNo   uint32
	totalGranule uint64
	template     *ogg.Page
	ChapterPages []uint32
}

// NewRewriter returns a rewriter that will stamp every page with serialNo
// and start numbering audio pages at 2 (after the identification and
// comment pages).
func NewRewriter(serialNo uint32) *Rewriter {
	return &Rewriter{
		Timestamp:  serialNo,
		nextPageNo: 2,
	}
}

// ProcessTrack reads one source track's Ogg/Opus stream from src in full,
// resizes its audio pages to the container's fixed page sizes, and
// writes the result to dst, folding every written byte into hasher. last
// marks the final track of the container, whose final page gets the
// end-of-stream flag.
func (r *Rewriter) ProcessTrack(src io.Reader, last bool, dst io.Writer, hasher hash.Hash) error {
	// A single buffered reader is kept for the whole track so every page
	// read, including the identification and comment pages, resyncs
	// against the same lookahead buffer instead of discarding it between
	// calls (see ogg.SeekToPageHeader).
	br := bufio.NewReader(src)
	src = br

	isFirstTrack := r.nextPageNo == 2
	firstPageSize := audioPageSize
	if isFirstTrack {
		firstPageSize = firstAudioPageSize
	}

	var chapterStart uint32
	if isFirstTrack {
		chapterStart = 0
		if err := r.copyHeaderPages(src, dst, hasher); err != nil {
			return err
		}
	} else {
		chapterStart = r.nextPageNo
		if err := r.skipHeaderPages(src); err != nil {
			return err
		}
	}
	r.ChapterPages = append(r.ChapterPages, chapterStart)

	pages, err := readAllPages(src)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return tonieerr.New(tonieerr.KindOggPageTruncated, "track has no audio pages")
	}

	if r.template == nil {
		tmpl := ogg.FromTemplate(pages[0])
		tmpl.SerialNo = r.Timestamp
		r.template = tmpl
	}

	newPages, err := r.resizePages(pages, audioPageSize, firstPageSize, last)
	if err != nil {
		return err
	}

	w := io.MultiWriter(dst, hasher)
	for _, p := range newPages {
		if err := p.Write(w); err != nil {
			return tonieerr.Wrap(tonieerr.KindIO, "write audio page", err)
		}
	}

	if n := len(newPages); n > 0 {
		r.totalGranule = newPages[n-1].GranulePosition
		r.nextPageNo = newPages[n-1].PageNo + 1
	}
	return nil
}

// copyHeaderPages re-serializes the first track's identification and
// comment pages under the container's serial number, replacing the
// comment page's content with the fixed OpusTags payload.
func (r *Rewriter) copyHeaderPages(src io.Reader, dst io.Writer, hasher hash.Hash) error {
	idPage, err := ogg.ParseAligned(src)
	if err != nil {
		return tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read identification page", err)
	}
	if err := checkIdentificationHeader(idPage); err != nil {
		return err
	}
	idPage.SerialNo = r.Timestamp
	if _, err := idPage.CorrectValues(0); err != nil {
		return err
	}

	commentPage, err := ogg.ParseAligned(src)
	if err != nil {
		return tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read comment page", err)
	}
	commentPage.SerialNo = r.Timestamp
	payloadLen := commentBlockSize - idPage.GetPageSize() - 27 - 2
	if payloadLen < 0 {
		return tonieerr.New(tonieerr.KindHeaderLengthMismatch,
			fmt.Sprintf("identification page too large (%d bytes) to leave room for comment page", idPage.GetPageSize()))
	}
	commentPage.Segments = splitIntoSegments(buildCommentPayload(payloadLen), true)
	if _, err := commentPage.CorrectValues(0); err != nil {
		return err
	}

	w := io.MultiWriter(dst, hasher)
	if err := idPage.Write(w); err != nil {
		return tonieerr.Wrap(tonieerr.KindIO, "write identification page", err)
	}
	if err := commentPage.Write(w); err != nil {
		return tonieerr.Wrap(tonieerr.KindIO, "write comment page", err)
	}
	return nil
}

// skipHeaderPages reads past (without emitting) a subsequent track's
// identification and comment pages, validating the identification
// header so a mismatched track fails fast instead of corrupting the
// shared stream.
func (r *Rewriter) skipHeaderPages(src io.Reader) error {
	idPage, err := ogg.ParseAligned(src)
	if err != nil {
		return tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read identification page", err)
	}
	if err := checkIdentificationHeader(idPage); err != nil {
		return err
	}
	if _, err := ogg.ParseAligned(src); err != nil {
		return tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read comment page", err)
	}
	return nil
}

// checkIdentificationHeader validates the OpusHead segment's magic,
// version, channel count and sample rate against the only configuration
// this tool (and the target device) accepts.
func checkIdentificationHeader(page *ogg.Page) error {
	if len(page.Segments) == 0 || len(page.Segments[0].Data) < 18 {
		return tonieerr.New(tonieerr.KindHeaderParseFailed, "identification page segment too short")
	}
	data := page.Segments[0].Data
	if string(data[0:8]) != "OpusHead" {
		return tonieerr.New(tonieerr.KindHeaderParseFailed, "missing OpusHead magic")
	}
	if version := data[8]; version != 1 {
		return tonieerr.New(tonieerr.KindWrongOpusVersion, fmt.Sprintf("got %d, want 1", version))
	}
	if channels := data[9]; channels != 2 {
		return tonieerr.New(tonieerr.KindWrongChannelCount, fmt.Sprintf("got %d, want 2 (stereo)", channels))
	}
	if rate := binary.LittleEndian.Uint32(data[12:16]); rate != 48000 {
		return tonieerr.New(tonieerr.KindWrongSampleRate, fmt.Sprintf("got %d, want 48000", rate))
	}
	return nil
}

// readAllPages drains every remaining page from src, resyncing to each
// page's sync pattern rather than trusting strict back-to-back framing.
func readAllPages(src io.Reader) ([]*ogg.Page, error) {
	var pages []*ogg.Page
	for {
		p, err := ogg.ParseAligned(src)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// resizePages is the resize pipeline of §4.3/§4.4: it walks the source
// pages packet by packet, accumulating whole Opus packets into a fresh
// output page until the next packet would overflow maxPageSize or the
// 256-segment table limit, at which point the page is padded to size,
// its granule and checksum are corrected, and a new page is started.
func (r *Rewriter) resizePages(oldPages []*ogg.Page, maxPageSize, firstPageSize int, setLastPageFlag bool) ([]*ogg.Page, error) {
	var newPages []*ogg.Page
	pageNo := r.nextPageNo
	maxSize := firstPageSize
	lastGranule := r.totalGranule

	newPage := ogg.FromTemplate(r.template)
	newPage.PageNo = pageNo

	srcIdx, segIdx := 0, 0

	flush := func() error {
		if err := newPage.Pad(maxSize, -1); err != nil {
			return err
		}
		g, err := newPage.CorrectValues(lastGranule)
		if err != nil {
			return err
		}
		lastGranule = g
		newPages = append(newPages, newPage)
		return nil
	}

	for srcIdx < len(oldPages) {
		page := oldPages[srcIdx]
		if segIdx >= len(page.Segments) {
			srcIdx++
			segIdx = 0
			continue
		}

		size := page.PacketSizeAt(segIdx)
		segCount := page.PacketSegmentCountAt(segIdx)

		if size+segCount+newPage.GetPageSize() <= maxSize && len(newPage.Segments)+segCount < 256 {
			newPage.AppendPacket(page, segIdx)
			segIdx += segCount
			continue
		}

		if len(newPage.Segments) == 0 {
			return nil, tonieerr.New(tonieerr.KindTooManySegments, "single packet exceeds target page size")
		}
		if err := flush(); err != nil {
			return nil, err
		}
		pageNo++
		newPage = ogg.FromTemplate(r.template)
		newPage.PageNo = pageNo
		maxSize = maxPageSize
	}

	if len(newPage.Segments) > 0 {
		if setLastPageFlag {
			newPage.PageType |= ogg.PageEOS
		}
		if err := flush(); err != nil {
			return nil, err
		}
	}

	return newPages, nil
}
