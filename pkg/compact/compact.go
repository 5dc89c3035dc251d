// Package compact makes exception stack traces more compact, by collapsing
// package names already seen on the previous frame, eliding file names which
// can be inferred from the class name, and removing exception messages which
// are repeated by wrapping exceptions.
//
// The input is a trace flattened root cause first, where each wrapping
// exception starts with a "[wrapped]" header:
//
//	java.io.IOException: Your pipe is broken, sir.
//	    at com.example.pipes.Pipe.flush(Pipe.java:42)
//	    at com.example.pipes.Plumber.fix(Plumber.java:10)
//	 [wrapped] java.lang.RuntimeException: java.io.IOException: Your pipe is broken, sir.
//	    at com.example.pipes.Plumber.fix(Plumber.java:12)
//
// which becomes
//
//	java.io.IOException: Your pipe is broken, sir.
//	    at com.example.pipes.Pipe.flush(~:42)
//	    at c.e.p.Plumber.fix(~:10)
//	[wrapped] java.lang.RuntimeException:
//	    at c.e.p.P.fix(~:12)
//
// Lines which cannot be recognized are left as they are.
package compact

import "strings"

// Defaults for the fields of [Compactor].
const (
	DefaultMarker          = "[wrapped] "
	DefaultElision         = "~"
	DefaultSourceExtension = ".java"
)

// Compactor holds the settings for compacting traces. The zero value is ready
// to use, and uses the Default* constants. A Compactor holds no state between
// calls and may be used concurrently.
type Compactor struct {
	// Marker starts the header line of a wrapping exception.
	Marker string
	// Elision replaces file names equal to the class name.
	Elision string
	// SourceExtension is the conventional extension of source files, which
	// is dropped together with the file name. Other extensions are kept.
	SourceExtension string
}

// DefaultCompactor is used by the package-level functions.
var DefaultCompactor = &Compactor{}

func (c *Compactor) marker() string {
	if c.Marker == "" {
		return DefaultMarker
	}
	return c.Marker
}

func (c *Compactor) elision() string {
	if c.Elision == "" {
		return DefaultElision
	}
	return c.Elision
}

func (c *Compactor) sourceExtension() string {
	if c.SourceExtension == "" {
		return DefaultSourceExtension
	}
	return c.SourceExtension
}

// Stats counts the lines of a trace by how they were handled.
type Stats struct {
	Frames  int // frame lines rewritten
	Wrapped int // wrapped-cause headers
	Other   int // lines left untouched, including the first one
}

// wrappedMessage returns the message following the marker, if line is a
// wrapped-cause header.
func (c *Compactor) wrappedMessage(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimLeft(line, " \t"), c.marker())
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// Classify returns the kind of line.
func (c *Compactor) Classify(line string) Kind {
	if _, ok := c.wrappedMessage(line); ok {
		return KindWrapped
	}
	if _, ok := ParseFrame(line); ok {
		return KindFrame
	}
	return KindOther
}

// Lines compacts the trace in lines, rewriting its elements in place.
// lines[0] is the message of the root cause and is never modified.
func (c *Compactor) Lines(lines []string) Stats {
	var st Stats
	if len(lines) == 0 {
		return st
	}
	st.Other++

	prevPath, prevMessage := "", lines[0]
	for i := 1; i < len(lines); i++ {
		line := lines[i]

		if msg, ok := c.wrappedMessage(line); ok {
			lines[i] = removeMessage(line, prevMessage)
			prevMessage = msg
			st.Wrapped++
			continue
		}

		f, ok := ParseFrame(line)
		if !ok {
			st.Other++
			continue
		}
		lines[i] = c.rewriteFrame(f, prevPath)
		prevPath = f.PackagePath
		st.Frames++
	}
	return st
}

// removeMessage removes the last occurrence of msg from header, which is
// where a wrapping exception repeats the message of its cause.
func removeMessage(header, msg string) string {
	if msg != "" {
		if i := strings.LastIndex(header, msg); i >= 0 {
			header = header[:i] + header[i+len(msg):]
		}
	}
	return strings.TrimSpace(header)
}

// String compacts the trace in text, keeping its line terminators.
func (c *Compactor) String(text string) string {
	lines, term := SplitLines(text)
	c.Lines(lines)
	return strings.Join(lines, term)
}

// Lines compacts lines in place using [DefaultCompactor].
func Lines(lines []string) Stats {
	return DefaultCompactor.Lines(lines)
}

// String compacts text using [DefaultCompactor].
func String(text string) string {
	return DefaultCompactor.String(text)
}
