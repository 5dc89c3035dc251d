package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/thehowl/tersetrace/pkg/db"
	"github.com/thehowl/tersetrace/templates"
)

// storedTrace is a trace as read back from storage.
type storedTrace struct {
	ID   string
	Meta db.Trace
	Raw  string
}

func (s *Server) getTrace(ctx context.Context, id string) (*storedTrace, error) {
	if id == "example" {
		return exampleTrace, nil
	}

	// determine whether trace exists
	meta, err := s.DB.GetTrace(id)
	if err != nil {
		return nil, err
	}
	if meta.IsZero() {
		return nil, nil
	}

	// get from storage
	data, err := s.Storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := gunzipBytes(data)
	if err != nil {
		return nil, err
	}

	return &storedTrace{ID: id, Meta: meta, Raw: string(raw)}, nil
}

func (s *Server) serveTrace(w http.ResponseWriter, r *http.Request) error {
	// parse id
	id := chi.URLParam(r, "id")
	wantRaw := false
	if strings.HasSuffix(id, ".txt") {
		id = id[:len(id)-len(".txt")]
		wantRaw = true
	} else if !isBrowser(r) {
		wantRaw = true
	}

	tr, err := s.getTrace(r.Context(), id)
	if err != nil {
		return err
	}
	if tr == nil {
		notFound(w)
		return nil
	}

	compacted, st := s.compactText(tr.Raw)
	if wantRaw {
		w.Header().Set(ctHeader, ctPlain)
		w.Write([]byte(compacted))
		return nil
	}
	return templates.Templates.ExecuteTemplate(w, "trace.tmpl", &templates.TraceTemplateData{
		ID:          tr.ID,
		PublicURL:   s.PublicURL,
		CreatedAt:   tr.Meta.CreatedAt,
		Stats:       st,
		RawSize:     len(tr.Raw),
		CompactSize: len(compacted),
		Compacted:   compacted,
	})
}

func (s *Server) serveRaw(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")

	tr, err := s.getTrace(r.Context(), id)
	if err != nil {
		return err
	}
	if tr == nil {
		notFound(w)
		return nil
	}

	w.Header().Set(ctHeader, ctPlain)
	w.Header().Set("Content-Disposition", `inline; filename="`+id+`.txt"`)
	w.Write([]byte(tr.Raw))
	return nil
}

func (s *Server) serveDiff(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	wantRaw := r.URL.Query().Has("raw") || !isBrowser(r)

	tr, err := s.getTrace(r.Context(), id)
	if err != nil {
		return err
	}
	if tr == nil {
		notFound(w)
		return nil
	}

	compacted, _ := s.compactText(tr.Raw)
	edits := myers.ComputeEdits("x", tr.Raw, compacted)
	unified := gotextdiff.ToUnified(id+".txt", id+".compact.txt", tr.Raw, edits)

	if wantRaw {
		w.Header().Set(ctHeader, ctPlain)
		fmt.Fprint(w, unified)
		return nil
	}
	return templates.Templates.ExecuteTemplate(w, "diff.tmpl", &templates.DiffTemplateData{
		ID:   id,
		Diff: unified,
	})
}

var exampleTrace = &storedTrace{ID: "example", Raw: exampleRaw}

const exampleRaw = `java.lang.IllegalStateException: Cannot read configuration
	at com.example.config.ConfigLoader.read(ConfigLoader.java:88)
	at com.example.config.ConfigLoader.load(ConfigLoader.java:41)
	at com.example.config.ConfigLoader$Cache.get(ConfigLoader.java:120)
	at com.example.server.Bootstrap.start(Bootstrap.java:57)
	at com.example.server.Bootstrap.main(Bootstrap.java:23)
[wrapped] java.lang.RuntimeException: Startup failed: java.lang.IllegalStateException: Cannot read configuration
	at com.example.server.Bootstrap.main(Bootstrap.java:25)
	at jdk.internal.reflect.NativeMethodAccessorImpl.invoke0(Native Method)
	at jdk.internal.reflect.NativeMethodAccessorImpl.invoke(NativeMethodAccessorImpl.java:77)
`
