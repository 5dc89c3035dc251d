package compact

import "strings"

const atToken = "at "

// Kind is the classification of a single trace line.
type Kind int

// Possible results of [Compactor.Classify].
const (
	KindOther Kind = iota
	KindFrame
	KindWrapped
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindWrapped:
		return "wrapped"
	}
	return "other"
}

// Frame is the parsed view of a call-frame line, such as
//
//	at okhttp3.internal.connection.RealConnection.connect(RealConnection.java:149)
//
// Concatenating Prefix, PackagePath, Method, Location and Suffix yields the
// original line.
type Frame struct {
	// Prefix is everything up to and including the "at " token.
	Prefix string
	// PackagePath is the qualified name without the method, ie. package and
	// class: "okhttp3.internal.connection.RealConnection".
	PackagePath string
	// ClassName is the last segment of PackagePath, nested-class marker
	// included: "RealConnection", "Outer$1".
	ClassName string
	// Method is the span from the dot before the method name up to and
	// including the opening parenthesis: ".connect(".
	Method string
	// Location is the raw text inside the parentheses.
	Location string
	// FileName is Location up to the line separator: "RealConnection.java".
	FileName string
	// FileStem is FileName up to its first dot: "RealConnection".
	FileStem string
	// Extension is the rest of FileName after FileStem: ".java".
	Extension string
	// LineNumber is the text after the line separator, if any: "149".
	LineNumber string
	// Suffix is the closing parenthesis and anything following it.
	Suffix string
}

// OuterClass returns ClassName without any nested-class part.
func (f Frame) OuterClass() string {
	if i := strings.IndexByte(f.ClassName, '$'); i >= 0 {
		return f.ClassName[:i]
	}
	return f.ClassName
}

// ParseFrame parses line as a call-frame line. ok is false if line does not
// have the shape "at <package>.<method>(<location>)".
func ParseFrame(line string) (f Frame, ok bool) {
	at := strings.Index(line, atToken)
	if at < 0 {
		return Frame{}, false
	}
	start := at + len(atToken)

	open := strings.LastIndexByte(line, '(')
	if open < start {
		return Frame{}, false
	}
	method := strings.LastIndexByte(line[:open], '.')
	if method <= start {
		return Frame{}, false
	}
	closing := strings.LastIndexByte(line, ')')
	if closing < open {
		return Frame{}, false
	}

	f = Frame{
		Prefix:      line[:start],
		PackagePath: line[start:method],
		Method:      line[method : open+1],
		Location:    line[open+1 : closing],
		Suffix:      line[closing:],
	}

	// "at RealConnection.connect(...)" has no package.
	f.ClassName = f.PackagePath
	if i := strings.LastIndexByte(f.PackagePath, '.'); i >= 0 {
		f.ClassName = f.PackagePath[i+1:]
	}

	f.FileName = f.Location
	if i := strings.IndexByte(f.Location, ':'); i >= 0 {
		f.FileName, f.LineNumber = f.Location[:i], f.Location[i+1:]
	}
	f.FileStem = f.FileName
	if i := strings.IndexByte(f.FileName, '.'); i >= 0 {
		f.FileStem, f.Extension = f.FileName[:i], f.FileName[i:]
	}
	return f, true
}

// hasLineNumber reports whether the location carried a line separator.
func (f Frame) hasLineNumber() bool {
	return len(f.FileName) < len(f.Location)
}

// rewriteLocation returns the text to put between the parentheses.
func (c *Compactor) rewriteLocation(f Frame) string {
	if f.FileStem != f.OuterClass() {
		return f.Location
	}
	var b strings.Builder
	b.Grow(len(f.Location))
	b.WriteString(c.elision())
	if f.Extension != c.sourceExtension() {
		b.WriteString(f.Extension)
	}
	if f.hasLineNumber() {
		b.WriteByte(':')
		b.WriteString(f.LineNumber)
	}
	return b.String()
}

// rewriteFrame builds the compacted form of f, abbreviating its package path
// against prevPath.
func (c *Compactor) rewriteFrame(f Frame, prevPath string) string {
	var b strings.Builder
	b.Grow(len(f.Prefix) + len(f.PackagePath) + len(f.Method) + len(f.Location) + len(f.Suffix))
	b.WriteString(f.Prefix)
	b.WriteString(OverlapPath(prevPath, f.PackagePath, '.'))
	b.WriteString(f.Method)
	b.WriteString(c.rewriteLocation(f))
	b.WriteString(f.Suffix)
	return b.String()
}
