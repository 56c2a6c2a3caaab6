// Package doctor runs preflight checks for the external tools the
// transcoding pipeline shells out to, so a missing ffmpeg or opusenc
// install is reported clearly up front instead of surfacing as an
// opaque exec error mid-conversion.
package doctor

import (
	"fmt"
	"os/exec"
)

// CheckResult records the outcome of one preflight check.
type CheckResult struct {
	Name    string
	OK      bool
	Message string
}

// RunChecks verifies that the named ffmpeg and opusenc binaries are on
// PATH and report a version, which is as close as this tool gets to
// validating the transcoding pipeline without actually running it.
func RunChecks(ffmpegBin, opusencBin string) []CheckResult {
	return []CheckResult{
		checkCommand(ffmpegBin, "-version"),
		checkCommand(opusencBin, "--version"),
	}
}

func checkCommand(bin string, versionFlag string) CheckResult {
	path, err := exec.LookPath(bin)
	if err != nil {
		return CheckResult{
			Name:    bin,
			OK:      false,
			Message: fmt.Sprintf("not found on PATH: %v", err),
		}
	}

	out, err := exec.Command(path, versionFlag).CombinedOutput()
	if err != nil {
		return CheckResult{
			Name:    bin,
			OK:      false,
			Message: fmt.Sprintf("found at %s but failed to run: %v", path, err),
		}
	}

	return CheckResult{
		Name:    bin,
		OK:      true,
		Message: fmt.Sprintf("%s (%s)", path, firstLine(out)),
	}
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}

// PrintResults returns a human-readable report of the check results, one
// line per check.
func PrintResults(results []CheckResult) string {
	out := ""
	for _, r := range results {
		status := "✅"
		if !r.OK {
			status = "❌"
		}
		out += fmt.Sprintf("%s %s: %s\n", status, r.Name, r.Message)
	}
	return out
}
