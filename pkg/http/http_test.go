package http

import (
	"bytes"
	cr "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thehowl/tersetrace/pkg/db"
	"github.com/thehowl/tersetrace/pkg/storage"
	"go.etcd.io/bbolt"
)

const firefoxUA = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:136.0) Gecko/20100101 Firefox/136.0"

const (
	testTrace = "java.io.IOException: boom\n" +
		"\tat com.example.io.Pipe.write(Pipe.java:10)\n" +
		"\tat com.example.io.Pipe.flush(Pipe.java:20)\n" +
		"\tat com.example.app.Main.main(Main.java:5)\n"
	testCompacted = "java.io.IOException: boom\n" +
		"\tat com.example.io.Pipe.write(~:10)\n" +
		"\tat c.e.i.P.flush(~:20)\n" +
		"\tat c.e.app.Main.main(~:5)\n"

	exampleCompacted = "java.lang.IllegalStateException: Cannot read configuration\n" +
		"\tat com.example.config.ConfigLoader.read(~:88)\n" +
		"\tat c.e.c.C.load(~:41)\n" +
		"\tat c.e.c.C$Cache.get(~:120)\n" +
		"\tat c.e.server.Bootstrap.start(~:57)\n" +
		"\tat c.e.s.B.main(~:23)\n" +
		"[wrapped] java.lang.RuntimeException: Startup failed:\n" +
		"\tat c.e.s.B.main(~:25)\n" +
		"\tat jdk.internal.reflect.NativeMethodAccessorImpl.invoke0(Native Method)\n" +
		"\tat j.i.r.N.invoke(~:77)\n"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	bdb, err := bbolt.Open(filepath.Join(t.TempDir(), "db.bolt"), 0o644, nil)
	t.Cleanup(func() {
		bdb.Close()
	})
	require.NoError(t, err)
	db := &db.DB{
		DB: bdb,
	}
	serv := &Server{
		DB:        db,
		PublicURL: "https://tersetrace",
		Storage:   storage.NewDBStorage(bdb, []byte("storage")),
		Output:    io.Discard,
	}
	return serv
}

func newRand(t *testing.T) *rand.Rand {
	var buf [32]byte
	_, err := cr.Read(buf[:])
	if err != nil {
		panic(err)
	}
	t.Logf("seed: %x", buf)
	return rand.New(rand.NewChaCha8(buf))
}

func get(r http.Handler, target string, browser bool) *httptest.ResponseRecorder {
	wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", target, nil)
	if browser {
		req.Header.Set("User-Agent", firefoxUA)
	}
	r.ServeHTTP(wri, req)
	return wri
}

func TestIndex(t *testing.T) {
	r := newServer(t).Router()

	{
		// default, without a browser header.
		wri := get(r, "/", false)
		assert.Equal(t, 200, wri.Code)
		assert.Contains(t, wri.Body.String(), "usage: curl -F trace=@trace.txt https://tersetrace\n")
		assert.NotContains(t, wri.Body.String(), "<style>")
	}
	{
		// with a browser header.
		wri := get(r, "/", true)
		assert.Equal(t, 200, wri.Code)
		assert.Contains(t, wri.Body.String(), "<h1>tersetrace</h1>")
		assert.Contains(t, wri.Body.String(), "<style>")
	}
}

func TestUpload(t *testing.T) {
	r := newServer(t).Router()
	rnd := newRand(t)

	t.Run("upload_ok", func(t *testing.T) {
		t.Parallel()
		rd, header := multipartFiles("trace@trace.txt", testTrace)
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/", rd)
		req.Header.Set("Content-Type", header)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusFound, wri.Code, wri.Body.String())

		loc := wri.Header().Get("Location")
		require.NotEmpty(t, loc)
		assert.True(t, strings.HasPrefix(loc, "https://tersetrace/"), loc)

		wri = get(r, loc, false)
		assert.Equal(t, http.StatusOK, wri.Code, wri.Body.String())
		assert.Equal(t, testCompacted, wri.Body.String())

		wri = get(r, loc+"/raw", true)
		assert.Equal(t, http.StatusOK, wri.Code, wri.Body.String())
		assert.Equal(t, testTrace, wri.Body.String())

		wri = get(r, loc+"/diff", false)
		assert.Equal(t, http.StatusOK, wri.Code, wri.Body.String())
		assert.Contains(t, wri.Body.String(), "-\tat com.example.io.Pipe.flush(Pipe.java:20)\n")
		assert.Contains(t, wri.Body.String(), "+\tat c.e.i.P.flush(~:20)\n")
	})
	t.Run("upload_field_ok", func(t *testing.T) {
		t.Parallel()
		rd, header := multipartFiles("trace", exampleRaw)
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/", rd)
		req.Header.Set("Content-Type", header)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusFound, wri.Code, wri.Body.String())

		loc := wri.Header().Get("Location")
		require.NotEmpty(t, loc)

		// browsers get the html page, and can ask for the text version.
		wri = get(r, loc, true)
		assert.Equal(t, http.StatusOK, wri.Code, wri.Body.String())
		assert.Contains(t, wri.Body.String(), "c.e.c.C$Cache.get(~:120)")
		assert.Contains(t, wri.Body.String(), "8 frames")
		assert.Contains(t, wri.Body.String(), "uploaded ")

		wri = get(r, loc+".txt", true)
		assert.Equal(t, http.StatusOK, wri.Code, wri.Body.String())
		assert.Equal(t, exampleCompacted, wri.Body.String())
	})
	t.Run("reupload", func(t *testing.T) {
		t.Parallel()
		const trace = "java.lang.Error: again\n\tat a.b.C.d(C.java:1)\n"
		var locs [2]string
		for i := range locs {
			rd, header := multipartFiles("trace@again.txt", trace)
			wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/", rd)
			req.Header.Set("Content-Type", header)
			r.ServeHTTP(wri, req)
			assert.Equal(t, http.StatusFound, wri.Code, wri.Body.String())
			locs[i] = wri.Header().Get("Location")
		}
		assert.NotEmpty(t, locs[0])
		assert.Equal(t, locs[0], locs[1])
	})
	t.Run("missing_trace", func(t *testing.T) {
		t.Parallel()
		tt := []struct {
			name string
			args []string
		}{
			{"no_field", []string{"stack", testTrace}},
			{"empty_field", []string{"trace", " \n\t\n"}},
			{"empty_file", []string{"trace@trace.txt", ""}},
			{"two_files", []string{"trace@a.txt", testTrace, "trace@b.txt", testTrace}},
		}
		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				rd, header := multipartFiles(tc.args...)
				wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/", rd)
				req.Header.Set("Content-Type", header)
				r.ServeHTTP(wri, req)
				assert.Equal(t, http.StatusBadRequest, wri.Code)
				assert.Contains(t, wri.Body.String(), "usage: curl")
			})
		}
	})
	t.Run("no_content_type", func(t *testing.T) {
		t.Parallel()
		rd, _ := multipartFiles("trace@trace.txt", testTrace)
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/", rd)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusBadRequest, wri.Code)
		assert.Contains(t, wri.Body.String(), "multipart/form-data")
	})
	t.Run("upload_spam_traces", func(t *testing.T) {
		t.Parallel()

		wg := sync.WaitGroup{}
		for i := 0; i < maxCallsWeek; i++ {
			// submit maxCallsWeek junk traces.
			wg.Add(1)
			go func() {
				defer wg.Done()
				var buf [256]byte
				randBytes(rnd, buf[:])
				rd, header := multipartFiles("trace@trace.txt", string(buf[:]))
				wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/", rd)
				req.RemoteAddr = "171.81.83.116"
				req.Header.Set("Content-Type", header)
				r.ServeHTTP(wri, req)
				loc := wri.Header().Get("Location")
				assert.Equal(t, http.StatusFound, wri.Code, wri.Body.String())
				assert.NotEmpty(t, loc)
			}()
		}

		// after, try submitting a trace which should fail.
		wg.Wait()
		var buf [256]byte
		randBytes(rnd, buf[:])
		rd, header := multipartFiles("trace@trace.txt", string(buf[:]))
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/", rd)
		req.RemoteAddr = "171.81.83.116"
		req.Header.Set("Content-Type", header)
		r.ServeHTTP(wri, req)
		loc := wri.Header().Get("Location")
		assert.Equal(t, http.StatusTooManyRequests, wri.Code, wri.Body.String())
		assert.Contains(t, wri.Body.String(), "limit exceeded")
		require.Empty(t, loc)
	})
}

func TestServeTrace(t *testing.T) {
	r := newServer(t).Router()

	t.Run("example", func(t *testing.T) {
		wri := get(r, "/example", false)
		assert.Equal(t, http.StatusOK, wri.Code)
		assert.Equal(t, exampleCompacted, wri.Body.String())
	})
	t.Run("example_raw", func(t *testing.T) {
		wri := get(r, "/example/raw", false)
		assert.Equal(t, http.StatusOK, wri.Code)
		assert.Equal(t, exampleRaw, wri.Body.String())
		assert.Equal(t, `inline; filename="example.txt"`, wri.Header().Get("Content-Disposition"))
	})
	t.Run("example_html", func(t *testing.T) {
		wri := get(r, "/example", true)
		assert.Equal(t, http.StatusOK, wri.Code)
		assert.Contains(t, wri.Body.String(), "<title>example - tersetrace</title>")
		assert.Contains(t, wri.Body.String(), "1 wrapped causes")
		assert.NotContains(t, wri.Body.String(), "uploaded ")
	})
	t.Run("not_found", func(t *testing.T) {
		for _, target := range []string{"/zzzzzzzz", "/zzzzzzzz.txt", "/zzzzzzzz/raw", "/zzzzzzzz/diff"} {
			wri := get(r, target, false)
			assert.Equal(t, http.StatusNotFound, wri.Code, target)
		}
	})
}

func TestServeDiff(t *testing.T) {
	r := newServer(t).Router()

	{
		wri := get(r, "/example/diff", false)
		assert.Equal(t, http.StatusOK, wri.Code)
		body := wri.Body.String()
		assert.True(t, strings.HasPrefix(body, "--- example.txt\n+++ example.compact.txt\n"), body)
		assert.Contains(t, body, "-\tat com.example.config.ConfigLoader.load(ConfigLoader.java:41)\n")
		assert.Contains(t, body, "+\tat c.e.c.C.load(~:41)\n")
		// the root message is kept as-is.
		assert.NotContains(t, body, "-java.lang.IllegalStateException")
	}
	{
		wri := get(r, "/example/diff", true)
		assert.Equal(t, http.StatusOK, wri.Code)
		body := wri.Body.String()
		assert.Contains(t, body, `<span class="hunk">@@ -1,`)
		assert.Contains(t, body, `<span class="ins">&#43;	at c.e.c.C.load(~:41)`)
	}
	{
		wri := get(r, "/example/diff?raw", true)
		assert.Equal(t, http.StatusOK, wri.Code)
		assert.True(t, strings.HasPrefix(wri.Body.String(), "--- example.txt\n"))
	}
}

func TestCompact(t *testing.T) {
	r := newServer(t).Router()

	post := func(target, body string) *httptest.ResponseRecorder {
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", target, strings.NewReader(body))
		r.ServeHTTP(wri, req)
		return wri
	}

	tt := []struct {
		name   string
		target string
		body   string
		code   int
		result string
	}{
		{"ok", "/compact", testTrace, 200, testCompacted},
		{"no_trailing_newline", "/compact", strings.TrimSuffix(testTrace, "\n"), 200, testCompacted},
		{
			"crlf", "/compact",
			strings.ReplaceAll(testTrace, "\n", "\r\n"), 200,
			strings.ReplaceAll(testCompacted, "\n", "\r\n"),
		},
		{"banner", "/compact?banner=StackTrace:", testTrace, 200, "StackTrace:\n" + testCompacted},
		{"empty_banner", "/compact?banner=", testTrace, 200, testCompacted},
		{"mixed_line_endings", "/compact", "java.io.IOException: boom\r\nnot a frame\n", 200, "java.io.IOException: boom\r\nnot a frame\n"},
		{"custom_banner", "/compact?banner=Trace", testTrace, 200, "Trace\n" + testCompacted},
		{"not_a_trace", "/compact", "hello\nworld\n", 200, "hello\nworld\n"},
		{"empty", "/compact", "\n\n", 400, ""},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			wri := post(tc.target, tc.body)
			assert.Equal(t, tc.code, wri.Code, wri.Body.String())
			if tc.code == 200 {
				assert.Equal(t, tc.result, wri.Body.String())
			} else {
				assert.Contains(t, wri.Body.String(), "usage: curl")
			}
		})
	}

	t.Run("too_large", func(t *testing.T) {
		wri := post("/compact", strings.Repeat(testTrace, maxBodySize/len(testTrace)+1))
		assert.Equal(t, http.StatusBadRequest, wri.Code)
		assert.Contains(t, wri.Body.String(), "request body too large")
	})
}

func TestMetrics(t *testing.T) {
	r := newServer(t).Router()

	wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/compact", strings.NewReader(testTrace))
	r.ServeHTTP(wri, req)
	require.Equal(t, 200, wri.Code)

	wri = get(r, "/metrics", false)
	assert.Equal(t, 200, wri.Code)
	body := wri.Body.String()
	assert.Contains(t, body, `tersetrace_traces_compacted_total{source="api"} 1`)
	assert.Contains(t, body, `tersetrace_lines_total{kind="frame"} 3`)
	assert.Contains(t, body, `tersetrace_lines_total{kind="other"} 1`)
	assert.Contains(t, body, "tersetrace_raw_bytes_total 157")
	assert.Contains(t, body, "tersetrace_uploads_rejected_total 0")
}

func randBytes(r *rand.Rand, buf []byte) {
	for i := 0; i < len(buf); i += 8 {
		var dstLe [8]byte
		binary.BigEndian.PutUint64(dstLe[:], r.Uint64())
		var dst [16]byte
		hex.Encode(dst[:], dstLe[:])
		copy(buf[i:], dst[:])
	}
}

func multipartFiles(filesContents ...string) (io.Reader, string) {
	if len(filesContents)%2 != 0 {
		panic("multipartFiles expect even number of arguments")
	}
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	for i := 0; i < len(filesContents); i += 2 {
		fieldName, cont := filesContents[i], filesContents[i+1]
		pos := strings.IndexByte(fieldName, '@')
		if pos >= 0 {
			fieldName, fileName := fieldName[:pos], fieldName[pos+1:]
			w, err := w.CreateFormFile(fieldName, fileName)
			if err != nil {
				panic(err)
			}
			if _, err := w.Write([]byte(cont)); err != nil {
				panic(err)
			}
		} else {
			w.WriteField(fieldName, cont)
		}
	}
	w.Close()

	return buf, w.FormDataContentType()
}
