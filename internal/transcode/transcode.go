// Package transcode drives the external ffmpeg|opusenc pipeline that
// turns an arbitrary input audio file into a raw Opus-in-Ogg stream at
// 48kHz, the only format the container writer accepts as track data.
package transcode

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rubiojr/tonietool/internal/tonieerr"
)

// spooledMaxMemory is how much of the transcoded stream is buffered in
// memory before spilling to a temp file; the output of a typical
// multi-minute Opus track comfortably fits under this, but very long
// tracks shouldn't force the whole pipeline to hold everything in RAM.
const spooledMaxMemory = 50 << 20 // 50MiB

// Options configures the transcoder pipeline.
type Options struct {
	FFmpegBin  string
	OpusencBin string
	BitrateKbs int
	CBR        bool
}

// DefaultOptions matches the reference pipeline's own defaults.
func DefaultOptions() Options {
	return Options{
		FFmpegBin:  "ffmpeg",
		OpusencBin: "opusenc",
		BitrateKbs: 96,
	}
}

// ToOpus transcodes the file at path into a raw Opus-in-Ogg stream,
// returning a seekable handle to the result. The pipeline is
// ffmpeg decoding to 48kHz signed PCM, piped straight into opusenc.
func ToOpus(path string, opts Options) (*SpooledFile, error) {
	ffmpeg := exec.Command(opts.FFmpegBin,
		"-hide_banner", "-loglevel", "warning",
		"-i", path,
		"-f", "wav", "-ar", "48000", "-",
	)

	opusencArgs := []string{"--quiet"}
	if opts.CBR {
		opusencArgs = append(opusencArgs, "--hard-cbr")
	} else {
		opusencArgs = append(opusencArgs, "--vbr")
	}
	opusencArgs = append(opusencArgs, "--bitrate", fmt.Sprint(opts.BitrateKbs), "-", "-")
	opusenc := exec.Command(opts.OpusencBin, opusencArgs...)

	pipe, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, tonieerr.Wrap(tonieerr.KindTranscoderFailed, "open ffmpeg stdout pipe", err)
	}
	opusenc.Stdin = pipe

	var ffmpegErr, opusencErr bytes.Buffer
	ffmpeg.Stderr = &ffmpegErr
	opusenc.Stderr = &opusencErr

	out := NewSpooledFile(spooledMaxMemory)
	opusenc.Stdout = out

	if err := opusenc.Start(); err != nil {
		return nil, tonieerr.Wrap(tonieerr.KindTranscoderFailed, "start opusenc", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, tonieerr.Wrap(tonieerr.KindTranscoderFailed, "start ffmpeg", err)
	}

	ffmpegDone := ffmpeg.Wait()
	if ffmpegDone != nil {
		out.Close()
		return nil, tonieerr.Wrap(tonieerr.KindTranscoderFailed,
			fmt.Sprintf("ffmpeg %s: %s", path, ffmpegErr.String()), ffmpegDone)
	}

	if err := opusenc.Wait(); err != nil {
		out.Close()
		return nil, tonieerr.Wrap(tonieerr.KindTranscoderFailed,
			fmt.Sprintf("opusenc %s: %s", path, opusencErr.String()), err)
	}

	if err := out.SeekToStart(); err != nil {
		return nil, tonieerr.Wrap(tonieerr.KindIO, "rewind transcoded buffer", err)
	}

	return out, nil
}

// SpooledFile buffers written bytes in memory up to a threshold, then
// transparently spills to a temp file, while supporting re-reading the
// whole thing from the start once writing is done.
type SpooledFile struct {
	maxMemory int
	mem       *bytes.Buffer
	file      *os.File
	reader    io.ReadSeeker
}

// NewSpooledFile returns an empty spooled buffer with the given in-memory
// threshold.
func NewSpooledFile(maxMemory int) *SpooledFile {
	return &SpooledFile{
		maxMemory: maxMemory,
		mem:       &bytes.Buffer{},
	}
}

// Write implements io.Writer, spilling to a temp file once the in-memory
// buffer would exceed maxMemory.
func (s *SpooledFile) Write(p []byte) (int, error) {
	if s.file != nil {
		return s.file.Write(p)
	}
	if s.mem.Len()+len(p) > s.maxMemory {
		f, err := os.CreateTemp("", "tonietool-transcode-*.opus")
		if err != nil {
			return 0, err
		}
		if _, err := f.Write(s.mem.Bytes()); err != nil {
			return 0, err
		}
		s.file = f
		s.mem = nil
		return s.file.Write(p)
	}
	return s.mem.Write(p)
}

// SeekToStart prepares the buffer for reading from the beginning,
// whichever backing store it ended up using.
func (s *SpooledFile) SeekToStart() error {
	if s.file != nil {
		_, err := s.file.Seek(0, io.SeekStart)
		s.reader = s.file
		return err
	}
	s.reader = bytes.NewReader(s.mem.Bytes())
	return nil
}

// Read implements io.Reader. Call SeekToStart before the first Read.
func (s *SpooledFile) Read(p []byte) (int, error) {
	if s.reader == nil {
		if err := s.SeekToStart(); err != nil {
			return 0, err
		}
	}
	return s.reader.Read(p)
}

// Seek implements io.Seeker.
func (s *SpooledFile) Seek(offset int64, whence int) (int64, error) {
	if s.reader == nil {
		if err := s.SeekToStart(); err != nil {
			return 0, err
		}
	}
	return s.reader.Seek(offset, whence)
}

// Close releases the backing temp file, if one was created.
func (s *SpooledFile) Close() error {
	if s.file != nil {
		name := s.file.Name()
		err := s.file.Close()
		os.Remove(name)
		return err
	}
	return nil
}
