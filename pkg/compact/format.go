package compact

import (
	"bufio"
	"io"
	"strings"
)

// DefaultBanner is the first line written by [Write] when no banner is given.
const DefaultBanner = "StackTrace:"

// SplitLines splits text into lines. If every line terminator in text is
// "\r\n", term is "\r\n" and the carriage returns are removed from the lines;
// otherwise term is "\n" and any carriage return is left in its line. Joining
// lines with term gives back text.
func SplitLines(text string) (lines []string, term string) {
	lines = strings.Split(text, "\n")
	if len(lines) == 1 {
		return lines, "\n"
	}
	// the last element is not followed by a terminator.
	terminated := lines[:len(lines)-1]
	for _, l := range terminated {
		if !strings.HasSuffix(l, "\r") {
			return lines, "\n"
		}
	}
	for i, l := range terminated {
		terminated[i] = l[:len(l)-1]
	}
	return lines, "\r\n"
}

// SplitTerminated is like [SplitLines], but drops the empty element following
// a final terminator, so that writing the lines with [Write] and no banner
// gives back text.
func SplitTerminated(text string) (lines []string, term string) {
	lines, term = SplitLines(text)
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, term
}

// WriteOptions controls the output of [Write].
type WriteOptions struct {
	// Banner is written before the trace, on its own line.
	// Use NoBanner to omit it.
	Banner string
	// Terminator ends every line. Defaults to "\n".
	Terminator string
}

// NoBanner can be used as [WriteOptions.Banner] to write no banner.
const NoBanner = "-"

// Write writes lines to w, each followed by the terminator and preceded by the
// banner.
func Write(w io.Writer, lines []string, opts WriteOptions) error {
	term := opts.Terminator
	if term == "" {
		term = "\n"
	}
	bw := bufio.NewWriter(w)
	switch opts.Banner {
	case NoBanner:
	case "":
		bw.WriteString(DefaultBanner + term)
	default:
		bw.WriteString(opts.Banner + term)
	}
	for _, l := range lines {
		bw.WriteString(l)
		bw.WriteString(term)
	}
	return bw.Flush()
}
