// Package http implements the web server of tersetrace: traces are uploaded,
// stored, and viewed in their compacted form.
package http

import (
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/thehowl/tersetrace/pkg/compact"
	"github.com/thehowl/tersetrace/pkg/db"
	"github.com/thehowl/tersetrace/pkg/storage"
	"github.com/thehowl/tersetrace/templates"
)

type Server struct {
	PublicURL string
	Storage   storage.Storage
	DB        *db.DB
	Output    io.Writer

	// Compactor defaults to compact.DefaultCompactor.
	Compactor *compact.Compactor
	// Metrics defaults to a new set of metrics, with its own registry.
	Metrics *Metrics
}

func (s *Server) Router() chi.Router {
	if s.Output == nil {
		s.Output = os.Stdout
	}
	if s.Compactor == nil {
		s.Compactor = compact.DefaultCompactor
	}
	if s.Metrics == nil {
		s.Metrics = NewMetrics()
	}
	rt := chi.NewRouter()
	rt.Use(
		middleware.RealIP,
		middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger:  log.New(s.Output, "", log.LstdFlags),
			NoColor: true,
		}),
		middleware.Recoverer,
		middleware.Timeout(time.Second*60),
	)
	rt.Get("/", s.index)
	rt.Post("/", s.e(s.upload))
	rt.Post("/compact", s.e(s.compact))
	rt.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	rt.Get("/{id}", s.e(s.serveTrace))
	rt.Get("/{id}/raw", s.e(s.serveRaw))
	rt.Get("/{id}/diff", s.e(s.serveDiff))
	return rt
}

const (
	ctHeader = "Content-Type"
	ctPlain  = "text/plain; charset=utf-8"
)

var (
	reBrowser = regexp.MustCompile("(?i)(?:chrome|firefox|safari|gecko)/")
	errUsage  = errors.New("")
)

func (s *Server) usageString() []byte {
	return []byte("usage: curl -F trace=@trace.txt " + s.PublicURL + "\n" +
		"       curl --data-binary @trace.txt " + s.PublicURL + "/compact\n")
}

func isBrowser(r *http.Request) bool {
	ua := r.UserAgent()
	return reBrowser.MatchString(ua)
}

// clientAddr returns the address used to account uploads to a client.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP sets RemoteAddr without a port.
		return r.RemoteAddr
	}
	return host
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if !isBrowser(r) {
		w.Header().Set(ctHeader, ctPlain)
		w.Write(s.usageString())
		return
	}
	templates.Templates.ExecuteTemplate(
		w,
		"index.tmpl",
		struct{ PublicURL string }{s.PublicURL},
	)
}

func (s *Server) e(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err != nil {
			if errors.Is(err, errUsage) {
				w.Header().Set(ctHeader, ctPlain)
				w.WriteHeader(400)
				w.Write(s.usageString())
				return
			}
			log.Printf("request error: %v", err)
			w.WriteHeader(500)
			w.Write([]byte("500 internal server error\n"))
		}
	}
}

func notFound(w http.ResponseWriter) {
	w.Header().Set(ctHeader, ctPlain)
	w.WriteHeader(404)
	w.Write([]byte("not found\n"))
}
