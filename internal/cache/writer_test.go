package cache

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

var plainPayload = []byte(strings.Repeat("decoded cache payload line\n", 512))

func TestObservePersistsDecodedGzip(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	compressed := gzipBytes(t, plainPayload)

	resp := upstreamResponse(http.StatusOK, compressed, "gzip")
	body := writer.Observe(resp, getRequest("/assets/app.js?v=3"), ResponseInfo{Status: http.StatusOK})

	clientBytes, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read client body: %v", err)
	}
	body.Close()
	writer.Wait()

	if !bytes.Equal(clientBytes, compressed) {
		t.Fatalf("client should receive upstream bytes verbatim")
	}

	event := events.single(t)
	if event.Err != nil {
		t.Fatalf("unexpected cache error: %v", event.Err)
	}
	want := filepath.Join(writer.workDir, "cache", "assets", "app.js")
	if event.Path != want {
		t.Fatalf("unexpected destination %s, want %s", event.Path, want)
	}
	if event.Bytes != int64(len(plainPayload)) {
		t.Fatalf("unexpected written bytes: %d", event.Bytes)
	}
	assertFileContent(t, want, plainPayload)
	assertNoTempFiles(t, filepath.Dir(want))
}

func TestObservePersistsDecodedBrotli(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	bw.Write(plainPayload)
	bw.Close()

	body := writer.Observe(upstreamResponse(http.StatusOK, buf.Bytes(), "br"), getRequest("/b.txt"), ResponseInfo{Status: http.StatusOK})
	io.Copy(io.Discard, body)
	body.Close()
	writer.Wait()

	if event := events.single(t); event.Err != nil {
		t.Fatalf("unexpected cache error: %v", event.Err)
	}
	assertFileContent(t, filepath.Join(writer.workDir, "cache", "b.txt"), plainPayload)
}

func TestObservePassesThroughUnknownEncoding(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	raw := []byte("opaque-bytes")

	body := writer.Observe(upstreamResponse(http.StatusOK, raw, "zstd"), getRequest("/blob"), ResponseInfo{Status: http.StatusOK})
	io.Copy(io.Discard, body)
	body.Close()
	writer.Wait()

	if event := events.single(t); event.Err != nil {
		t.Fatalf("unexpected cache error: %v", event.Err)
	}
	assertFileContent(t, filepath.Join(writer.workDir, "cache", "blob"), raw)
}

func TestObserveSkipsNonOKStatus(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	resp := upstreamResponse(http.StatusNotFound, []byte("missing"), "")

	body := writer.Observe(resp, getRequest("/missing.txt"), ResponseInfo{Status: http.StatusNotFound})
	if body != resp.Body {
		t.Fatalf("non-200 responses should not be wrapped")
	}
	body.Close()
	writer.Wait()

	event := events.single(t)
	var cacheErr *CacheError
	if !errors.As(event.Err, &cacheErr) || cacheErr.Status != http.StatusNotFound {
		t.Fatalf("expected CacheError with status 404, got %v", event.Err)
	}
	if !errors.Is(event.Err, ErrNotCacheable) {
		t.Fatalf("expected ErrNotCacheable, got %v", event.Err)
	}
	if _, err := os.Stat(filepath.Join(writer.workDir, "cache", "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no cache file should exist for 404, stat err=%v", err)
	}
}

func TestObserveSkipsHeadRequests(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	req := getRequest("/head.txt")
	req.Method = http.MethodHead

	writer.Observe(upstreamResponse(http.StatusOK, nil, ""), req, ResponseInfo{Status: http.StatusOK}).Close()
	writer.Wait()

	if !errors.Is(events.single(t).Err, ErrNotCacheable) {
		t.Fatalf("HEAD responses should not be cached")
	}
}

func TestObserveDrainsAfterEarlyClose(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	body := writer.Observe(upstreamResponse(http.StatusOK, plainPayload, ""), getRequest("/partial.txt"), ResponseInfo{Status: http.StatusOK})

	buf := make([]byte, 16)
	if _, err := io.ReadFull(body, buf); err != nil {
		t.Fatalf("read prefix: %v", err)
	}
	body.Close()
	writer.Wait()

	if event := events.single(t); event.Err != nil {
		t.Fatalf("unexpected cache error: %v", event.Err)
	}
	assertFileContent(t, filepath.Join(writer.workDir, "cache", "partial.txt"), plainPayload)
}

func TestObserveReportsDecodeFailure(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	junk := []byte("this is not gzip at all")

	body := writer.Observe(upstreamResponse(http.StatusOK, junk, "gzip"), getRequest("/broken.txt"), ResponseInfo{Status: http.StatusOK})
	clientBytes, _ := io.ReadAll(body)
	body.Close()
	writer.Wait()

	if !bytes.Equal(clientBytes, junk) {
		t.Fatalf("client bytes must be unaffected by decode failure")
	}
	event := events.single(t)
	var cacheErr *CacheError
	if !errors.As(event.Err, &cacheErr) || cacheErr.Status != http.StatusOK {
		t.Fatalf("expected CacheError with upstream status, got %v", event.Err)
	}
	dest := filepath.Join(writer.workDir, "cache", "broken.txt")
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no cache file should remain after decode failure, stat err=%v", err)
	}
	assertNoTempFiles(t, filepath.Dir(dest))
}

func TestObserveReportsUpstreamReadFailure(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	resp := upstreamResponse(http.StatusOK, nil, "")
	resp.Body = io.NopCloser(&flakyReader{payload: []byte("partial_data"), failAfter: 5})

	body := writer.Observe(resp, getRequest("/interrupt/blob.tar"), ResponseInfo{Status: http.StatusOK})
	if _, err := io.ReadAll(body); err == nil {
		t.Fatalf("expected upstream read error to surface to the reader")
	}
	body.Close()
	writer.Wait()

	if events.single(t).Err == nil {
		t.Fatalf("expected cache error for interrupted stream")
	}
	target := filepath.Join(writer.workDir, "cache", "interrupt", "blob.tar")
	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no final file, got err=%v", err)
	}
	assertNoTempFiles(t, filepath.Dir(target))
}

func TestObserveReportsDirectoryFailure(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "blocked"), []byte("file"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	events := &eventRecorder{}
	writer, err := NewWriter(Options{Root: "blocked", WorkDir: workDir, Hook: events.record})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	body := writer.Observe(upstreamResponse(http.StatusOK, plainPayload, ""), getRequest("/a/b.txt"), ResponseInfo{Status: http.StatusOK})
	clientBytes, _ := io.ReadAll(body)
	body.Close()
	writer.Wait()

	if !bytes.Equal(clientBytes, plainPayload) {
		t.Fatalf("client bytes must be unaffected by mkdir failure")
	}
	if events.single(t).Err == nil {
		t.Fatalf("expected mkdir failure to be reported")
	}
}

func TestObserveAbsoluteRootWritesSingleFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "latest.bin")
	events := &eventRecorder{}
	writer, err := NewWriter(Options{Root: target, Hook: events.record})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	for _, p := range []string{"/first.txt", "/second/path.txt"} {
		body := writer.Observe(upstreamResponse(http.StatusOK, []byte(p), ""), getRequest(p), ResponseInfo{Status: http.StatusOK})
		io.Copy(io.Discard, body)
		body.Close()
		writer.Wait()
	}

	assertFileContent(t, target, []byte("/second/path.txt"))
	for _, event := range events.all() {
		if event.Path != target {
			t.Fatalf("absolute root should be used verbatim, got %s", event.Path)
		}
	}
}

func TestObserveConcurrentWritesLastWriterWins(t *testing.T) {
	writer, events := newTestWriter(t, "cache")
	payloadA := bytes.Repeat([]byte("A"), 256*1024)
	payloadB := bytes.Repeat([]byte("B"), 256*1024)

	var g errgroup.Group
	for _, payload := range [][]byte{payloadA, payloadB} {
		g.Go(func() error {
			body := writer.Observe(upstreamResponse(http.StatusOK, payload, ""), getRequest("/same.bin"), ResponseInfo{Status: http.StatusOK})
			_, err := io.Copy(io.Discard, body)
			body.Close()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("client stream failed: %v", err)
	}
	writer.Wait()

	for _, event := range events.all() {
		if event.Err != nil {
			t.Fatalf("concurrent write failed: %v", event.Err)
		}
	}
	got, err := os.ReadFile(filepath.Join(writer.workDir, "cache", "same.bin"))
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	if !bytes.Equal(got, payloadA) && !bytes.Equal(got, payloadB) {
		t.Fatalf("cache file must contain exactly one of the payloads")
	}
}

func TestDestinationLayout(t *testing.T) {
	workDir := t.TempDir()
	testCases := []struct {
		name string
		path string
		want string
	}{
		{"plain", "/b.txt", filepath.Join(workDir, "cache", "b.txt")},
		{"query stripped", "/b.txt?x=1", filepath.Join(workDir, "cache", "b.txt")},
		{"nested", "/a/b/c.json", filepath.Join(workDir, "cache", "a", "b", "c.json")},
		{"root", "/", filepath.Join(workDir, "cache", "index.html")},
		{"trailing slash", "/docs/", filepath.Join(workDir, "cache", "docs", "index.html")},
		{"traversal cleaned", "/../../etc/passwd", filepath.Join(workDir, "cache", "etc", "passwd")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := destination(workDir, "cache", tc.path)
			if err != nil {
				t.Fatalf("destination error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestNewWriterRequiresRoot(t *testing.T) {
	if _, err := NewWriter(Options{}); err == nil {
		t.Fatalf("empty root should be rejected")
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) single(t *testing.T) Event {
	t.Helper()
	events := r.all()
	if len(events) != 1 {
		t.Fatalf("expected exactly one cache event, got %d", len(events))
	}
	return events[0]
}

// newTestWriter returns a Writer rooted at a relative dir under a temporary working directory.
func newTestWriter(t *testing.T, root string) (*Writer, *eventRecorder) {
	t.Helper()
	events := &eventRecorder{}
	writer, err := NewWriter(Options{Root: root, WorkDir: t.TempDir(), Hook: events.record})
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	return writer, events
}

func upstreamResponse(status int, body []byte, contentEncoding string) *http.Response {
	header := http.Header{}
	if contentEncoding != "" {
		header.Set("Content-Encoding", contentEncoding)
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func getRequest(p string) RequestInfo {
	clean, _, _ := strings.Cut(p, "?")
	return RequestInfo{ID: "test-req", Method: http.MethodGet, Path: clean, URL: p, Header: http.Header{}}
}

func gzipBytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func assertFileContent(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("content mismatch for %s: got %d bytes, want %d", path, len(got), len(want))
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	for _, pattern := range []string{".cache-*", ".spool-*"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		if len(matches) != 0 {
			t.Fatalf("temporary files should be cleaned up, found %v", matches)
		}
	}
}

type flakyReader struct {
	payload   []byte
	failAfter int
	readBytes int
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.readBytes >= f.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	remaining := f.failAfter - f.readBytes
	if remaining > len(p) {
		remaining = len(p)
	}
	copy(p[:remaining], f.payload[f.readBytes:f.readBytes+remaining])
	f.readBytes += remaining
	return remaining, nil
}
