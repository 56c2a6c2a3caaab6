// Package sortfiles discovers and orders the audio files a conversion
// run should process: filtering to supported extensions and sorting them
// in natural (human) order, so "track2.mp3" sorts before "track10.mp3"
// instead of after it.
package sortfiles

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// SupportedExtensions lists the source formats the transcoder pipeline
// can consume (anything ffmpeg can demux into PCM).
var SupportedExtensions = []string{"mp3", "aac", "wav", "ogg", "webm", "opus"}

// IsSupported reports whether path's extension is one of
// SupportedExtensions, case-insensitively.
func IsSupported(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// CollectFiles returns every supported audio file directly inside dir
// (or dir itself, if it names a single file), naturally sorted.
func CollectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(path, e.Name())
		if IsSupported(full) {
			files = append(files, full)
		}
	}

	SortNatural(files)
	return files, nil
}

// SortNatural sorts paths by filename using natural ordering: runs of
// digits compare by numeric value rather than lexicographically, so
// "2" sorts before "10".
func SortNatural(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return Less(filepath.Base(paths[i]), filepath.Base(paths[j]))
	})
}

// Less implements natural-order comparison between two strings, splitting
// each into alternating runs of digits and non-digits and comparing digit
// runs by numeric value.
func Less(a, b string) bool {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		ac, bc := a[ai], b[bi]
		aDigit, bDigit := isDigit(ac), isDigit(bc)

		if aDigit && bDigit {
			aStart, bStart := ai, bi
			for ai < len(a) && isDigit(a[ai]) {
				ai++
			}
			for bi < len(b) && isDigit(b[bi]) {
				bi++
			}
			aNum, aErr := strconv.ParseUint(a[aStart:ai], 10, 64)
			bNum, bErr := strconv.ParseUint(b[bStart:bi], 10, 64)
			if aErr == nil && bErr == nil {
				if aNum != bNum {
					return aNum < bNum
				}
				continue
			}
			if a[aStart:ai] != b[bStart:bi] {
				return a[aStart:ai] < b[bStart:bi]
			}
			continue
		}

		if ac != bc {
			return ac < bc
		}
		ai++
		bi++
	}
	return len(a)-ai < len(b)-bi
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
