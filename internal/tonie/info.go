package tonie

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/rubiojr/tonietool/internal/ogg"
	"github.com/rubiojr/tonietool/internal/tonieerr"
)

// ChapterTime is one chapter's position and duration, reported by Inspect
// in the same shape the reference tool's check_tonie_file prints.
type ChapterTime struct {
	Index    int
	Duration time.Duration
}

// Report is the outcome of validating a container against every
// invariant §8 calls out: hash, timestamp, audio parameters, page
// alignment and size, and per-chapter durations.
type Report struct {
	TimestampOK    bool
	Timestamp      uint32
	BitstreamSerNo uint32

	DataLengthOK  bool
	DataLength    uint32
	ActualLength  uint64
	BitrateKbps   float64

	HashOK     bool
	HeaderHash []byte
	ActualHash []byte

	OpusHeaderOK bool
	Channels     uint8
	SampleRate   uint32
	PageCount    int

	AlignmentOK bool
	PageSizeOK  bool

	TotalRuntime time.Duration
	Chapters     []ChapterTime

	Valid bool
}

// Inspect parses a container and reports whether every invariant in
// §8 holds, without raising an error for validation failures — only for
// structural problems that prevent the check from running at all.
func Inspect(path string) (*Report, error) {
	header, audio, err := ReadContainer(path)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Timestamp:  header.Timestamp,
		DataLength: header.DataLength,
		HeaderHash: header.DataHash,
	}

	sum := sha1.Sum(audio)
	rep.ActualHash = sum[:]
	rep.HashOK = bytes.Equal(rep.ActualHash, rep.HeaderHash)

	rep.ActualLength = uint64(len(audio))
	rep.DataLengthOK = uint64(header.DataLength) == rep.ActualLength

	r := bytes.NewReader(audio)
	idPage, err := ogg.Parse(r)
	if err != nil {
		return nil, tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read identification page", err)
	}
	rep.BitstreamSerNo = idPage.SerialNo
	rep.TimestampOK = rep.Timestamp == rep.BitstreamSerNo

	if len(idPage.Segments) > 0 && len(idPage.Segments[0].Data) >= 18 {
		data := idPage.Segments[0].Data
		magicOK := string(data[0:8]) == "OpusHead"
		version := data[8]
		rep.Channels = data[9]
		rep.SampleRate = binary.LittleEndian.Uint32(data[12:16])
		rep.OpusHeaderOK = magicOK && version == 1 && rep.Channels == 2 &&
			rep.SampleRate == 48000
	}

	if _, err := ogg.Parse(r); err != nil {
		return nil, tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read comment page", err)
	}

	rep.PageCount = 2
	rep.AlignmentOK = true
	rep.PageSizeOK = true

	chapterGranules := []uint64{0}
	var lastPage *ogg.Page

	for {
		page, err := ogg.Parse(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rep.PageCount++

		nextPos := int64(len(audio)) - int64(r.Len())
		hasMore := r.Len() > 0
		if hasMore && nextPos%0x1000 != 0 {
			rep.AlignmentOK = false
		}
		if rep.PageCount > 3 && page.GetPageSize() != audioPageSize && hasMore {
			rep.PageSizeOK = false
		}

		for _, cp := range header.ChapterPages {
			if cp == page.PageNo {
				chapterGranules = append(chapterGranules, page.GranulePosition)
			}
		}
		lastPage = page
	}

	if lastPage != nil {
		chapterGranules = append(chapterGranules, lastPage.GranulePosition)
	} else {
		chapterGranules = append(chapterGranules, 0)
	}

	sampleRate := rep.SampleRate
	if sampleRate == 0 {
		sampleRate = 48000
	}
	for i := 1; i < len(chapterGranules); i++ {
		length := chapterGranules[i] - chapterGranules[i-1]
		rep.Chapters = append(rep.Chapters, ChapterTime{
			Index:    i,
			Duration: granuleDuration(length, sampleRate),
		})
	}

	if lastPage != nil {
		rep.TotalRuntime = granuleDuration(lastPage.GranulePosition, sampleRate)
		if rep.TotalRuntime > 0 {
			rep.BitrateKbps = float64(rep.ActualLength) * 8 / 1024 / rep.TotalRuntime.Seconds()
		}
	}

	rep.Valid = rep.HashOK && rep.TimestampOK && rep.OpusHeaderOK && rep.AlignmentOK && rep.PageSizeOK
	return rep, nil
}

func granuleDuration(granule uint64, sampleRate uint32) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	seconds := float64(granule) / float64(sampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// String renders the report the way the reference tool's check_tonie_file
// prints it: one status line per invariant, then total runtime and a
// per-chapter duration list.
func (r *Report) String() string {
	var b bytes.Buffer
	status := func(ok bool) string {
		if ok {
			return "OK"
		}
		return "NOT OK"
	}

	fmt.Fprintf(&b, "[%s] Timestamp: [0x%X] %s\n", status(r.TimestampOK), r.Timestamp,
		time.Unix(int64(r.Timestamp), 0).UTC().Format("2006-01-02 15:04:05"))
	if !r.TimestampOK {
		fmt.Fprintf(&b, "   bitstream serial: 0x%X\n", r.BitstreamSerNo)
	}

	fmt.Fprintf(&b, "[%s] Opus data length: %d bytes (~%.0f kbps)\n",
		status(r.DataLengthOK), r.DataLength, r.BitrateKbps)
	if !r.DataLengthOK {
		fmt.Fprintf(&b, "     actual: %d bytes\n", r.ActualLength)
	}

	headOK := "NOT "
	if r.OpusHeaderOK {
		headOK = ""
	}
	fmt.Fprintf(&b, "[%s] Opus header %sOK || %d channels || %.1f kHz || %d Ogg pages\n",
		status(r.OpusHeaderOK), headOK, r.Channels, float64(r.SampleRate)/1000, r.PageCount)

	alignWord, sizeWord := "", ""
	if !r.AlignmentOK {
		alignWord = "NOT "
	}
	if !r.PageSizeOK {
		sizeWord = "NOT "
	}
	fmt.Fprintf(&b, "[%s] Page alignment %sOK and size %sOK\n",
		status(r.AlignmentOK && r.PageSizeOK), alignWord, sizeWord)

	fmt.Fprintln(&b)
	validWord := ""
	if !r.Valid {
		validWord = "NOT "
	}
	fmt.Fprintf(&b, "[%s] File is %svalid\n", status(r.Valid), validWord)

	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "[ii] Total runtime: %s\n", formatDuration(r.TotalRuntime))
	fmt.Fprintf(&b, "[ii] %d Tracks:\n", len(r.Chapters))
	for _, c := range r.Chapters {
		fmt.Fprintf(&b, "  Track %02d: %s\n", c.Index, formatDuration(c.Duration))
	}

	return b.String()
}

func formatDuration(d time.Duration) string {
	total := d.Seconds()
	hours := int(total) / 3600
	minutes := (int(total) - hours*3600) / 60
	seconds := int(total) - hours*3600 - minutes*60
	fraction := int(total*100) % 100
	return fmt.Sprintf("%02d:%02d:%02d.%02d", hours, minutes, seconds, fraction)
}
