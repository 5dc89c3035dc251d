package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thehowl/tersetrace/pkg/compact"
)

var rootCmd = &cobra.Command{
	Use:   "tersetrace",
	Short: "Shorten Java stack traces, keeping every frame",
	Long: "tersetrace shortens Java stack traces: package names are abbreviated against\n" +
		"the frame above, file names matching the class are elided, and messages\n" +
		"repeated by wrapping exceptions are removed.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, compactCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultEnv(s, def string) string {
	v, ok := os.LookupEnv(s)
	if ok {
		return v
	}
	return def
}

// stringVar defines a flag on fs, which takes its default from the environment
// variable named after the flag (listen-addr -> LISTEN_ADDR).
func stringVar(fs *pflag.FlagSet, p *string, fg, defaultValue, usage string) {
	ev := strings.ReplaceAll(strings.ToUpper(fg), "-", "_")
	fs.StringVar(p, fg, defaultEnv(ev, defaultValue), usage+". env var: "+ev)
}

// boolVar is like stringVar, for boolean flags.
func boolVar(fs *pflag.FlagSet, p *bool, fg string, defaultValue bool, usage string) {
	ev := strings.ReplaceAll(strings.ToUpper(fg), "-", "_")
	if v, err := strconv.ParseBool(defaultEnv(ev, "")); err == nil {
		defaultValue = v
	}
	fs.BoolVar(p, fg, defaultValue, usage+". env var: "+ev)
}

// compactorFlags are the flags shared by the commands which compact traces.
type compactorFlags struct {
	marker    string
	sourceExt string
}

func (c *compactorFlags) register(fs *pflag.FlagSet) {
	stringVar(fs, &c.marker, "marker", compact.DefaultMarker, "prefix of the header line of a wrapping exception")
	stringVar(fs, &c.sourceExt, "source-ext", compact.DefaultSourceExtension, "extension of source files, elided with the file name")
}

func (c *compactorFlags) compactor() *compact.Compactor {
	return &compact.Compactor{
		Marker:          c.marker,
		SourceExtension: c.sourceExt,
	}
}
