package templates

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/thehowl/tersetrace/pkg/compact"
)

var (
	funcMap = map[string]any{
		"hunk_header": func(hunk *gotextdiff.Hunk) string {
			fromCount, toCount := 0, 0
			for _, l := range hunk.Lines {
				switch l.Kind {
				case gotextdiff.Delete:
					fromCount++
				case gotextdiff.Insert:
					toCount++
				default:
					fromCount++
					toCount++
				}
			}
			var bld strings.Builder
			bld.WriteString("@@")
			if fromCount > 1 {
				fmt.Fprintf(&bld, " -%d,%d", hunk.FromLine, fromCount)
			} else {
				fmt.Fprintf(&bld, " -%d", hunk.FromLine)
			}
			if toCount > 1 {
				fmt.Fprintf(&bld, " +%d,%d", hunk.ToLine, toCount)
			} else {
				fmt.Fprintf(&bld, " +%d", hunk.ToLine)
			}
			bld.WriteString(" @@")
			return bld.String()
		},
		"line_class": func(kind gotextdiff.OpKind) string {
			switch kind {
			case gotextdiff.Delete:
				return "del"
			case gotextdiff.Insert:
				return "ins"
			default:
				return "eq"
			}
		},
		"line_prefix": func(kind gotextdiff.OpKind) string {
			switch kind {
			case gotextdiff.Delete:
				return "-"
			case gotextdiff.Insert:
				return "+"
			default:
				return " "
			}
		},
		"saved": func(part, total int) string {
			if total == 0 {
				return "0%"
			}
			return fmt.Sprintf("%.1f%%", 100*(1-float64(part)/float64(total)))
		},
	}
	Templates = template.Must(
		template.New("").
			Funcs(funcMap).
			ParseFS(templateFS, "*.tmpl"),
	)
	//go:embed *.tmpl
	templateFS embed.FS
)

// TraceTemplateData is passed to trace.tmpl.
type TraceTemplateData struct {
	ID        string
	PublicURL string
	CreatedAt time.Time

	Stats       compact.Stats
	RawSize     int
	CompactSize int
	Compacted   string
}

// DiffTemplateData is passed to diff.tmpl.
type DiffTemplateData struct {
	ID   string
	Diff gotextdiff.Unified
}
