package tonie

import (
	"crypto/sha1"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rubiojr/tonietool/internal/tonieerr"
	"github.com/rubiojr/tonietool/internal/transcode"
)

// DefaultOutputBasename is the device identifier the reference tooling
// uses for output files when the caller doesn't name one.
const DefaultOutputBasename = "500304E0"

// ConvertOptions configures a single convert run.
type ConvertOptions struct {
	// Timestamp, if non-nil, overrides both the Ogg serial number and the
	// header's creation timestamp. Nil means "use the current time".
	Timestamp *uint32
	// NoTonieHeader emits only the raw Ogg/Opus stream, skipping the
	// 4KiB protobuf header region entirely.
	NoTonieHeader bool
	Transcode     transcode.Options
}

// countingWriter tracks how many bytes have passed through it, used to
// compute the header's data_length without needing a seekable sink.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// isPassthroughInput reports whether path is already an Ogg/Opus stream
// that can be fed to the rewriter directly, bypassing the transcoder
// entirely (the original converter's behavior for .opus/.ogg inputs).
func isPassthroughInput(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".opus", ".ogg":
		return true
	default:
		return false
	}
}

// ResolveTimestamp parses the --timestamp flag's value (decimal or
// 0x-prefixed hex) into a u32, or returns the current UNIX time
// truncated to u32 when raw is empty.
func ResolveTimestamp(raw string) (uint32, error) {
	if raw == "" {
		return uint32(time.Now().Unix()), nil
	}
	base := 10
	s := raw
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		base = 16
		s = raw[2:]
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, tonieerr.Wrap(tonieerr.KindIO, "parse timestamp", err)
	}
	return uint32(v), nil
}

// Convert transcodes every input file (or passes it through, if it's
// already Ogg/Opus) into a single normalized stream written to
// outputPath, optionally preceded by the 4KiB Tonie header region.
func Convert(inputPaths []string, outputPath string, opts ConvertOptions) (err error) {
	if len(inputPaths) == 0 {
		return tonieerr.New(tonieerr.KindIO, "no input files given")
	}

	out, createErr := os.Create(outputPath)
	if createErr != nil {
		return tonieerr.Wrap(tonieerr.KindIO, "create output file", createErr)
	}
	defer func() {
		// Deliberately not removed on error: partial output is left in
		// place for post-mortem inspection.
		closeErr := out.Close()
		if err == nil {
			err = closeErr
		}
	}()

	if !opts.NoTonieHeader {
		if _, err := out.Write(make([]byte, headerRegionSize)); err != nil {
			return tonieerr.Wrap(tonieerr.KindIO, "reserve header region", err)
		}
	}

	var timestamp uint32
	if opts.Timestamp != nil {
		timestamp = *opts.Timestamp
	} else {
		timestamp = uint32(time.Now().Unix())
	}

	sha := sha1.New()
	counting := &countingWriter{w: out}
	rw := NewRewriter(timestamp)

	for i, path := range inputPaths {
		last := i == len(inputPaths)-1
		if procErr := processOneInput(rw, path, last, counting, sha, opts.Transcode); procErr != nil {
			return procErr
		}
	}

	if opts.NoTonieHeader {
		return nil
	}

	header := &Header{
		DataHash:     sha.Sum(nil),
		DataLength:   uint32(counting.n),
		Timestamp:    timestamp,
		ChapterPages: rw.ChapterPages,
	}
	region, err := header.EncodeRegion()
	if err != nil {
		return err
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return tonieerr.Wrap(tonieerr.KindIO, "seek to header region", err)
	}
	if _, err := out.Write(region); err != nil {
		return tonieerr.Wrap(tonieerr.KindIO, "write header region", err)
	}
	return nil
}

func processOneInput(rw *Rewriter, path string, last bool, dst io.Writer, sha hash.Hash, topts transcode.Options) error {
	if isPassthroughInput(path) {
		f, err := os.Open(path)
		if err != nil {
			return tonieerr.Wrap(tonieerr.KindIO, "open input file", err)
		}
		defer f.Close()
		return rw.ProcessTrack(f, last, dst, sha)
	}

	spooled, err := transcode.ToOpus(path, topts)
	if err != nil {
		return err
	}
	defer spooled.Close()
	return rw.ProcessTrack(spooled, last, dst, sha)
}
