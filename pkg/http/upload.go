package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/thehowl/cford32"
	"github.com/thehowl/tersetrace/pkg/db"
	"go.uber.org/multierr"
)

const (
	maxBodySize        = 1 << 20 // 1M
	maxMultipartMemory = maxBodySize

	maxBytesWeek = (1 << 20) * 2 // 2M (compressed)
	maxCallsWeek = 100           // max upload calls per week.
)

func (s *Server) upload(w http.ResponseWriter, r *http.Request) error {
	// Read multipart form.
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	err := r.ParseMultipartForm(maxMultipartMemory)
	if err != nil {
		w.Header().Set(ctHeader, ctPlain)
		w.WriteHeader(400)
		w.Write([]byte("error: " + err.Error() + "\n"))
		w.Write(s.usageString())
		return nil
	}
	defer r.MultipartForm.RemoveAll()

	raw, err := traceFromForm(r.MultipartForm)
	if err != nil {
		return err
	}

	// Determine name of object.
	shaHash := sha256.Sum256(raw)
	// Use first 5 bytes (40 bits) to generate human readable ID.
	id := cford32.EncodeToStringLower(shaHash[:5])
	link := s.PublicURL + "/" + id
	output := func() {
		w.Header().Set(ctHeader, ctPlain)
		w.Header().Set("Location", link)
		w.WriteHeader(http.StatusFound)
		w.Write([]byte(link + "\n"))
	}

	// Is this a reupload?
	has, err := s.DB.HasTrace(id)
	if err != nil {
		return err
	}
	if has {
		output()
		return nil
	}

	gz, err := gzipBytes(raw)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	weekNum := (now.YearDay() - 1) / 7
	err = s.DB.AddUsage(
		clientAddr(r),
		db.UsageStat{
			Period:   fmt.Sprintf("%d/%d", now.Year(), weekNum),
			NumBytes: uint64(len(gz)),
			NumCalls: 1,
		},
		db.UploadLimits{
			MaxBytes: maxBytesWeek,
			MaxCalls: maxCallsWeek,
		},
	)
	switch {
	case errors.Is(err, db.ErrLimitsExceeded):
		s.Metrics.rejected.Inc()
		w.Header().Set(ctHeader, ctPlain)
		w.WriteHeader(http.StatusTooManyRequests)
		resetTime := time.Date(now.Year(), time.January, ((weekNum+1)*7)+1, 0, 0, 0, 0, time.UTC)
		fmt.Fprintf(w,
			"limit exceeded; will reset on %s (in %s)\n",
			resetTime.Format(time.RFC3339),
			resetTime.Sub(now).Round(time.Second),
		)
		return nil
	case err != nil:
		return err
	}

	// compact once to keep the numbers about the trace.
	compacted, st := s.compactText(string(raw))
	s.Metrics.observe(sourceUpload, st, len(raw), len(compacted))

	// not a reupload, save to permanent storage & db.
	err = s.Storage.Put(r.Context(), id, gz)
	if err != nil {
		return err
	}

	err = s.DB.PutTrace(id, db.Trace{
		CreatedAt:   now,
		Sum:         hex.EncodeToString(shaHash[:]),
		Lines:       st.Frames + st.Wrapped + st.Other,
		Frames:      st.Frames,
		Wrapped:     st.Wrapped,
		RawSize:     len(raw),
		CompactSize: len(compacted),
	})
	if err != nil {
		// background -> attempt to delete even if request is canceled
		return multierr.Combine(
			err,
			s.Storage.Del(context.Background(), id),
		)
	}

	output()
	return nil
}

// traceFromForm returns the trace passed either as the file or as the value
// of the "trace" field.
func traceFromForm(mf *multipart.Form) ([]byte, error) {
	if files := mf.File["trace"]; len(files) > 0 {
		if len(files) != 1 {
			return nil, errUsage
		}
		f, err := files[0].Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return nonEmpty(io.ReadAll(f))
	}
	vals := mf.Value["trace"]
	if len(vals) != 1 {
		return nil, errUsage
	}
	return nonEmpty([]byte(vals[0]), nil)
}

func nonEmpty(b []byte, err error) ([]byte, error) {
	if err == nil && len(bytes.TrimSpace(b)) == 0 {
		return nil, errUsage
	}
	return b, err
}

var gzipWriterPool = sync.Pool{
	New: func() any {
		return gzip.NewWriter(nil)
	},
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzipWriterPool.Get().(*gzip.Writer)
	gz.Reset(&buf)
	defer gzipWriterPool.Put(gz)

	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
