package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeBinary returns a small payload with an ELF header, unique per name.
func FakeBinary(name string) []byte {
	b := []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	return append(b, []byte("portabin test binary "+name+"\n")...)
}

// FakeAppImage returns a payload carrying the type-2 AppImage magic.
func FakeAppImage() []byte {
	b := []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 'A', 'I', 0x02, 0, 0, 0, 0, 0}
	return append(b, []byte("portabin test appimage\n")...)
}

// ArtifactServer serves fixed payloads by path and counts requests.
type ArtifactServer struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
	fail  map[string]int
}

// NewArtifactServer starts a server for files, keyed by URL path. Range
// requests are honoured through http.ServeContent.
func NewArtifactServer(t *testing.T, files map[string][]byte) *ArtifactServer {
	t.Helper()

	s := &ArtifactServer{
		files: make(map[string][]byte, len(files)),
		hits:  make(map[string]int),
		fail:  make(map[string]int),
	}
	for path, data := range files {
		s.files["/"+strings.TrimPrefix(path, "/")] = data
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// URL returns the absolute URL of path.
func (s *ArtifactServer) URL(path string) string {
	return s.Server.URL + "/" + strings.TrimPrefix(path, "/")
}

// Hits returns how many requests path received.
func (s *ArtifactServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits["/"+strings.TrimPrefix(path, "/")]
}

// Set replaces the payload served at path.
func (s *ArtifactServer) Set(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files["/"+strings.TrimPrefix(path, "/")] = data
}

// FailWith makes the next requests for path answer with code until cleared
// by FailWith(path, 0).
func (s *ArtifactServer) FailWith(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail["/"+strings.TrimPrefix(path, "/")] = code
}

func (s *ArtifactServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	data, ok := s.files[r.URL.Path]
	code := s.fail[r.URL.Path]
	s.mu.Unlock()

	if code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}
