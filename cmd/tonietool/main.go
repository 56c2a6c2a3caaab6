// Command tonietool converts ordinary audio files into the Tonie audio
// container and back: convert builds a container from one or more
// source files, info validates one against the container's own
// invariants, and split pulls individual chapters back out as plain
// Opus files.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rubiojr/tonietool/internal/doctor"
	"github.com/rubiojr/tonietool/internal/sortfiles"
	"github.com/rubiojr/tonietool/internal/tonie"
	"github.com/rubiojr/tonietool/internal/transcode"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "info":
		err = runInfo(os.Args[2:])
	case "split":
		err = runSplit(os.Args[2:])
	case "convert":
		err = runConvert(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tonietool <info|split|convert> [flags] ...")
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tonietool info <input>")
	}

	report, err := tonie.Inspect(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stderr, report.String())
	if !report.Valid {
		os.Exit(1)
	}
	return nil
}

func runSplit(args []string) error {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: tonietool split <input> [output_dir]")
	}

	input := fs.Arg(0)
	outDir := "."
	if fs.NArg() >= 2 {
		outDir = fs.Arg(1)
	}

	files, err := tonie.Split(input, outDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(os.Stderr, "✂️  %s\n", f)
	}
	return nil
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	timestampFlag := fs.String("timestamp", "", "override creation timestamp and serial number (decimal or 0x-hex)")
	noHeader := fs.Bool("no-tonie-header", false, "emit only the raw Ogg/Opus stream, skip the 4KiB header")
	bitrate := fs.Int("bitrate", 96, "encoder bitrate in kbps")
	cbr := fs.Bool("cbr", false, "use constant bitrate instead of VBR")
	ffmpegBin := fs.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	opusencBin := fs.String("opusenc", "opusenc", "path to the opusenc binary")
	appendSuffix := fs.Bool("append-tonie-filename", false, "suffix the output filename with _500304E0")
	fs.Parse(args)
	// Flags may come before or after the positional arguments, so parsing
	// resumes after each positional argument.
	var positional []string
	for fs.NArg() > 0 {
		positional = append(positional, fs.Arg(0))
		fs.Parse(fs.Args()[1:])
	}

	if len(positional) < 1 {
		return fmt.Errorf("usage: tonietool convert <input> [output] [flags]")
	}
	input := positional[0]

	output := tonie.DefaultOutputBasename
	if len(positional) >= 2 {
		output = positional[1]
	}
	if *appendSuffix {
		ext := filepath.Ext(output)
		output = strings.TrimSuffix(output, ext) + "_" + tonie.DefaultOutputBasename + ext
	}

	inputs, err := sortfiles.CollectFiles(input)
	if err != nil {
		return fmt.Errorf("collect input files: %w", err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no supported audio files found under %s", input)
	}

	results := doctor.RunChecks(*ffmpegBin, *opusencBin)
	for _, r := range results {
		if !r.OK {
			fmt.Fprint(os.Stderr, doctor.PrintResults(results))
			return fmt.Errorf("preflight check failed for %s", r.Name)
		}
	}

	var timestamp *uint32
	if *timestampFlag != "" {
		ts, err := tonie.ResolveTimestamp(*timestampFlag)
		if err != nil {
			return err
		}
		timestamp = &ts
	}

	pad := len(fmt.Sprint(len(inputs)))
	for i, path := range inputs {
		fmt.Fprintf(os.Stderr, "[%0*d/%d] %s\n", pad, i+1, len(inputs), path)
	}

	opts := tonie.ConvertOptions{
		Timestamp:     timestamp,
		NoTonieHeader: *noHeader,
		Transcode: transcode.Options{
			FFmpegBin:  *ffmpegBin,
			OpusencBin: *opusencBin,
			BitrateKbs: *bitrate,
			CBR:        *cbr,
		},
	}

	if err := tonie.Convert(inputs, output, opts); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✅ wrote %s\n", output)
	return nil
}
