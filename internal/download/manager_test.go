package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	digest "github.com/opencontainers/go-digest"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxTries: 4, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// serveContent serves data with Range support and records Range headers.
type serveContent struct {
	data   []byte
	mu     sync.Mutex
	ranges []string
	hits   atomic.Int32
}

func (s *serveContent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	s.mu.Lock()
	s.ranges = append(s.ranges, r.Header.Get("Range"))
	s.mu.Unlock()
	http.ServeContent(w, r, "artifact", time.Time{}, bytes.NewReader(s.data))
}

func (s *serveContent) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func newManager(t *testing.T, client *http.Client) *Manager {
	t.Helper()
	return NewManager(NewHTTPFetcherWithClient(client), Options{Concurrency: 2, Retry: fastRetry()})
}

func request(url string, data []byte, dest string) Request {
	return Request{
		ID:     filepath.Base(dest),
		URL:    url,
		Size:   int64(len(data)),
		Digest: digest.FromBytes(data),
		Dest:   dest,
	}
}

func TestManager_Fetch_Success(t *testing.T) {
	data := payload(100_000)
	srv := httptest.NewServer(&serveContent{data: data})
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "staging", "tool")
	var lastDone int64
	res := newManager(t, srv.Client()).Fetch(context.Background(), request(srv.URL, data, dest), func(id string, done, total int64) {
		lastDone = done
		if total != int64(len(data)) {
			t.Errorf("progress total = %d, want %d", total, len(data))
		}
	})
	if res.Err != nil {
		t.Fatalf("Fetch() error = %v", res.Err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("staged file differs from served content")
	}
	if lastDone != int64(len(data)) {
		t.Errorf("final progress = %d, want %d", lastDone, len(data))
	}
	for _, p := range []string{PartPath(dest), SidecarPath(dest)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should be removed after success", p)
		}
	}
}

func TestManager_Fetch_ResumesInterruptedTransfer(t *testing.T) {
	data := payload(3 << 20)
	half := len(data) / 2

	var hits atomic.Int32
	var mu sync.Mutex
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		if hits.Add(1) == 1 {
			// Drop the connection halfway through the first response.
			w.Header().Set("Content-Length", fmt.Sprint(len(data)))
			w.WriteHeader(http.StatusOK)
			w.Write(data[:half])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		http.ServeContent(w, r, "artifact", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tool")
	res := newManager(t, srv.Client()).Fetch(context.Background(), request(srv.URL, data, dest), nil)
	if res.Err != nil {
		t.Fatalf("Fetch() error = %v", res.Err)
	}
	if !res.Resumed {
		t.Error("Resumed = false, want true")
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("resumed file is not byte-identical to the source")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ranges) < 2 || ranges[0] != "" || !strings.HasPrefix(ranges[len(ranges)-1], "bytes=") {
		t.Errorf("Range headers = %q, want a ranged retry", ranges)
	}
}

func TestManager_Fetch_ResumesFromPersistedState(t *testing.T) {
	data := payload(50_000)
	srv := &serveContent{data: data}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "tool")
	req := request(ts.URL, data, dest)

	// State left behind by a killed process.
	if err := os.WriteFile(PartPath(dest), data[:20_000], 0o644); err != nil {
		t.Fatal(err)
	}
	if err := saveResume(dest, &ResumeState{BytesWritten: 20_000, ExpectedSize: req.Size, URL: req.URL, Digest: req.Digest}); err != nil {
		t.Fatal(err)
	}

	res := newManager(t, ts.Client()).Fetch(context.Background(), req, nil)
	if res.Err != nil {
		t.Fatalf("Fetch() error = %v", res.Err)
	}
	if !res.Resumed || res.Restarted {
		t.Errorf("Resumed = %v, Restarted = %v; want true, false", res.Resumed, res.Restarted)
	}
	if got := srv.Ranges(); len(got) != 1 || got[0] != "bytes=20000-" {
		t.Errorf("Range headers = %q, want [bytes=20000-]", got)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("staged file differs from served content")
	}
}

func TestManager_Fetch_RestartsOnceAfterCorruptResume(t *testing.T) {
	data := payload(40_000)
	srv := &serveContent{data: data}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "tool")
	req := request(ts.URL, data, dest)

	corrupt := bytes.Repeat([]byte{0xff}, 10_000)
	if err := os.WriteFile(PartPath(dest), corrupt, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := saveResume(dest, &ResumeState{BytesWritten: 10_000, ExpectedSize: req.Size, URL: req.URL, Digest: req.Digest}); err != nil {
		t.Fatal(err)
	}

	res := newManager(t, ts.Client()).Fetch(context.Background(), req, nil)
	if res.Err != nil {
		t.Fatalf("Fetch() error = %v", res.Err)
	}
	if !res.Restarted {
		t.Error("Restarted = false, want true")
	}
	if got := srv.Ranges(); len(got) != 2 || got[0] != "bytes=10000-" || got[1] != "" {
		t.Errorf("Range headers = %q, want a ranged request then a full one", got)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("staged file differs from served content")
	}
}

func TestManager_Fetch_Errors(t *testing.T) {
	data := payload(1000)

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		mutate   func(r *Request)
		wantErr  error
		wantHits int32
	}{
		{
			name: "not found is permanent",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantErr:  ErrUnreachable,
			wantHits: 1,
		},
		{
			name: "server error retried then unreachable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr:  ErrUnreachable,
			wantHits: 4,
		},
		{
			name: "checksum mismatch is terminal",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.ServeContent(w, r, "a", time.Time{}, bytes.NewReader(data))
			},
			mutate: func(r *Request) {
				r.Digest = digest.FromString("something else")
			},
			wantErr:  ErrChecksumMismatch,
			wantHits: 1,
		},
		{
			name: "size mismatch is terminal",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.ServeContent(w, r, "a", time.Time{}, bytes.NewReader(data))
			},
			mutate: func(r *Request) {
				r.Size = 999
			},
			wantErr:  ErrSizeMismatch,
			wantHits: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				tt.handler(w, r)
			}))
			defer ts.Close()

			dest := filepath.Join(t.TempDir(), "tool")
			req := request(ts.URL, data, dest)
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			res := newManager(t, ts.Client()).Fetch(context.Background(), req, nil)
			if !errors.Is(res.Err, tt.wantErr) {
				t.Fatalf("Fetch() error = %v, want %v", res.Err, tt.wantErr)
			}
			var fe *FetchError
			if !errors.As(res.Err, &fe) {
				t.Fatalf("error type = %T, want *FetchError", res.Err)
			}
			if got := hits.Load(); got != tt.wantHits {
				t.Errorf("server hits = %d, want %d", got, tt.wantHits)
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Error("no file should be staged on failure")
			}
		})
	}
}

func TestManager_Fetch_Cancelled(t *testing.T) {
	data := payload(1000)
	ts := httptest.NewServer(&serveContent{data: data})
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newManager(t, ts.Client()).Fetch(ctx, request(ts.URL, data, filepath.Join(t.TempDir(), "tool")), nil)
	if !errors.Is(res.Err, ErrInterrupted) {
		t.Fatalf("Fetch() error = %v, want ErrInterrupted", res.Err)
	}
}

func TestManager_FetchAll(t *testing.T) {
	artifacts := map[string][]byte{
		"/a": payload(10_000),
		"/b": payload(20_000),
		"/c": payload(30_000),
	}

	var inFlight, peak atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		data, ok := artifacts[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "a", time.Time{}, bytes.NewReader(data))
	}))
	defer ts.Close()

	dir := t.TempDir()
	var reqs []Request
	for _, p := range []string{"/a", "/b", "/c"} {
		reqs = append(reqs, request(ts.URL+p, artifacts[p], filepath.Join(dir, strings.TrimPrefix(p, "/"))))
	}

	m := NewManager(NewHTTPFetcherWithClient(ts.Client()), Options{Concurrency: 2, Retry: fastRetry()})
	results, err := m.FetchAll(context.Background(), reqs, nil)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	for i, res := range results {
		if res.ID != reqs[i].ID {
			t.Errorf("results[%d].ID = %s, want %s (request order)", i, res.ID, reqs[i].ID)
		}
		got, _ := os.ReadFile(res.Path)
		if !bytes.Equal(got, artifacts["/"+res.ID]) {
			t.Errorf("artifact %s differs", res.ID)
		}
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestManager_FetchAll_FirstFailureReported(t *testing.T) {
	good := payload(1000)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "a", time.Time{}, bytes.NewReader(good))
	}))
	defer ts.Close()

	dir := t.TempDir()
	reqs := []Request{
		request(ts.URL+"/ok", good, filepath.Join(dir, "ok")),
		request(ts.URL+"/missing", good, filepath.Join(dir, "missing")),
	}

	results, err := newManager(t, ts.Client()).FetchAll(context.Background(), reqs, nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("FetchAll() error = %v, want ErrUnreachable", err)
	}
	if !errors.Is(results[1].Err, ErrUnreachable) {
		t.Errorf("results[1].Err = %v", results[1].Err)
	}
}

func TestManager_Fetch_FileURL(t *testing.T) {
	data := payload(4096)
	src := filepath.Join(t.TempDir(), "source.bin")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "tool")
	m := NewManager(NewHTTPFetcher(), Options{Retry: fastRetry()})
	res := m.Fetch(context.Background(), request("file://"+src, data, dest), nil)
	if res.Err != nil {
		t.Fatalf("Fetch() error = %v", res.Err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("staged file differs from source")
	}
}
