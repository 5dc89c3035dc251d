package http

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/thehowl/tersetrace/pkg/compact"
)

// compactText compacts text with the server's compactor.
func (s *Server) compactText(text string) (string, compact.Stats) {
	lines, term := compact.SplitLines(text)
	st := s.Compactor.Lines(lines)
	return strings.Join(lines, term), st
}

// compact compacts the trace in the request body and writes it back, without
// storing it.
func (s *Server) compact(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		w.Header().Set(ctHeader, ctPlain)
		w.WriteHeader(400)
		w.Write([]byte("error: " + err.Error() + "\n"))
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return errUsage
	}

	lines, term := compact.SplitTerminated(string(raw))
	st := s.Compactor.Lines(lines)

	opts := compact.WriteOptions{Banner: compact.NoBanner, Terminator: term}
	// an empty banner means none, as in the command line.
	if b := r.URL.Query().Get("banner"); b != "" {
		opts.Banner = b
	}
	var buf bytes.Buffer
	if err := compact.Write(&buf, lines, opts); err != nil {
		return err
	}
	s.Metrics.observe(sourceAPI, st, len(raw), buf.Len())

	w.Header().Set(ctHeader, ctPlain)
	w.Write(buf.Bytes())
	return nil
}
