package main

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"github.com/thehowl/tersetrace/pkg/compact"
)

type compactOptions struct {
	compactorFlags

	banner string
	crlf   bool
}

var compactOpts compactOptions

var compactCmd = &cobra.Command{
	Use:   "compact [file|-]",
	Short: "Compact the trace in file, or standard input, to standard output",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "-"
		if len(args) > 0 {
			name = args[0]
		}
		return runCompact(cmd.InOrStdin(), cmd.OutOrStdout(), name, compactOpts)
	},
}

func init() {
	fs := compactCmd.Flags()
	stringVar(fs, &compactOpts.banner, "banner", compact.DefaultBanner, "line written before the trace, empty to disable")
	fs.BoolVar(&compactOpts.crlf, "crlf", false, `terminate lines with "\r\n"`)
	compactOpts.compactorFlags.register(fs)
}

func runCompact(stdin io.Reader, stdout io.Writer, name string, opts compactOptions) error {
	rd, err := openTrace(stdin, name)
	if err != nil {
		return err
	}
	defer rd.Close()
	raw, err := io.ReadAll(rd)
	if err != nil {
		return err
	}

	lines, term := compact.SplitTerminated(string(raw))
	opts.compactor().Lines(lines)

	wopts := compact.WriteOptions{Banner: opts.banner, Terminator: term}
	if wopts.Banner == "" {
		wopts.Banner = compact.NoBanner
	}
	if opts.crlf {
		wopts.Terminator = "\r\n"
	}
	return compact.Write(stdout, lines, wopts)
}

// openTrace opens the named file, or stdin if name is "-". Files ending in
// ".gz" are decompressed.
func openTrace(stdin io.Reader, name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(name, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &gzipFile{Reader: gz, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}
