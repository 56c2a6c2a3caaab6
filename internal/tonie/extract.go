package tonie

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rubiojr/tonietool/internal/ogg"
	"github.com/rubiojr/tonietool/internal/tonieerr"
)

// ReadContainer opens a Tonie container and returns its decoded header
// plus the raw bytes of the embedded Ogg/Opus stream (everything past
// the fixed 4KiB header region).
func ReadContainer(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, tonieerr.Wrap(tonieerr.KindIO, "open container", err)
	}
	defer f.Close()

	region := make([]byte, headerRegionSize)
	if _, err := io.ReadFull(f, region); err != nil {
		return nil, nil, tonieerr.Wrap(tonieerr.KindOggPageTruncated, "read header region", err)
	}
	header, err := DecodeRegion(region)
	if err != nil {
		return nil, nil, err
	}

	audio, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, tonieerr.Wrap(tonieerr.KindIO, "read audio stream", err)
	}
	return header, audio, nil
}

// ExtractOgg writes the embedded Ogg/Opus stream of a container verbatim
// to outputPath, with no chapter splitting.
func ExtractOgg(inputPath, outputPath string) error {
	_, audio, err := ReadContainer(inputPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		return tonieerr.Wrap(tonieerr.KindIO, "write extracted stream", err)
	}
	return nil
}

// Split extracts every chapter of a container into its own
// NN_<stem>.opus file under outDir, named with a 1-based, zero-padded
// chapter index. A single-chapter container produces exactly one file
// spanning the whole stream.
func Split(inputPath, outDir string) ([]string, error) {
	header, audio, err := ReadContainer(inputPath)
	if err != nil {
		return nil, err
	}

	offsets, err := chapterOffsets(audio, header.ChapterPages)
	if err != nil {
		return nil, err
	}

	stem := stemOf(inputPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, tonieerr.Wrap(tonieerr.KindIO, "create output directory", err)
	}

	var outFiles []string
	for i := range offsets {
		start := offsets[i]
		end := len(audio)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}

		name := fmt.Sprintf("%02d_%s.opus", i+1, stem)
		outPath := filepath.Join(outDir, name)
		if err := os.WriteFile(outPath, audio[start:end], 0o644); err != nil {
			return nil, tonieerr.Wrap(tonieerr.KindIO, "write chapter file", err)
		}
		outFiles = append(outFiles, outPath)
	}
	return outFiles, nil
}

// chapterOffsets resolves each recorded chapter page number to the byte
// offset, within the audio stream, where that chapter's first page
// begins. chapterPages[0] is always the sentinel 0 (offset 0, by
// convention); later entries are the real Ogg page number the rewriter
// assigned when that track's first page was emitted. Rather than derive
// offsets algebraically from page numbers (unsafe: the first audio page
// is 0xE00 bytes while every later page is a full 0x1000, so page number
// doesn't translate to a byte offset via a single multiplier), this
// walks the actual page stream and records the offset the instant a
// page's number matches the next chapter boundary being looked for.
func chapterOffsets(audio []byte, chapterPages []uint32) ([]int, error) {
	offsets := make([]int, len(chapterPages))
	if len(chapterPages) > 0 {
		offsets[0] = 0
	}
	if len(chapterPages) <= 1 {
		return offsets, nil
	}

	cr := &countingReader{r: bytes.NewReader(audio)}
	br := bufio.NewReader(cr)
	target := 1
	for target < len(chapterPages) {
		before := int(cr.n) - br.Buffered()
		page, err := ogg.ParseAligned(br)
		if err == io.EOF {
			return nil, tonieerr.New(tonieerr.KindHeaderParseFailed,
				fmt.Sprintf("chapter page %d not found in stream", chapterPages[target]))
		}
		if err != nil {
			return nil, err
		}
		if page.PageNo == chapterPages[target] {
			offsets[target] = before
			target++
		}
	}
	return offsets, nil
}

// countingReader tracks how many bytes have been pulled from the
// underlying reader, used alongside a bufio.Reader's own Buffered()
// count to recover the exact logical read offset (bytes actually
// consumed by the caller, not bytes merely read ahead into the buffer)
// while resyncing with ogg.ParseAligned.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func stemOf(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
