package index

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/ZebulonRouseFrantzich/portabin/internal/config"
	"github.com/ZebulonRouseFrantzich/portabin/internal/download"
)

// newSigningKey creates a throwaway key and writes its armored public part
// to dir.
func newSigningKey(t *testing.T, dir string) (*openpgp.Entity, string) {
	t.Helper()
	entity, err := openpgp.NewEntity("portabin test", "", "test@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		t.Fatalf("NewEntity() error = %v", err)
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatal(err)
	}
	w.Close()

	path := filepath.Join(dir, "repo.asc")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return entity, path
}

func sign(t *testing.T, entity *openpgp.Entity, data []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, entity, bytes.NewReader(data), nil); err != nil {
		t.Fatalf("ArmoredDetachSign() error = %v", err)
	}
	return sig.Bytes()
}

func TestVerifySignature(t *testing.T) {
	dir := t.TempDir()
	entity, keyPath := newSigningKey(t, dir)
	keyring, err := LoadKeyring(keyPath)
	if err != nil {
		t.Fatalf("LoadKeyring() error = %v", err)
	}

	data := []byte(`{"packages":[]}`)
	sig := sign(t, entity, data)

	if err := VerifySignature(keyring, data, sig); err != nil {
		t.Errorf("VerifySignature() error = %v", err)
	}
	if err := VerifySignature(keyring, []byte(`{"packages":[{}]}`), sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("VerifySignature(tampered) error = %v, want ErrBadSignature", err)
	}

	var binarySig bytes.Buffer
	if err := openpgp.DetachSign(&binarySig, entity, bytes.NewReader(data), nil); err != nil {
		t.Fatal(err)
	}
	if err := VerifySignature(keyring, data, binarySig.Bytes()); err != nil {
		t.Errorf("VerifySignature(binary) error = %v", err)
	}
}

func TestLoadKeyring_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadKeyring(filepath.Join(dir, "missing.asc")); err == nil {
		t.Error("LoadKeyring(missing) succeeded")
	}
	bad := filepath.Join(dir, "bad.asc")
	os.WriteFile(bad, []byte("not a key"), 0o644)
	if _, err := LoadKeyring(bad); err == nil {
		t.Error("LoadKeyring(garbage) succeeded")
	}
}

func TestSyncer_Sync(t *testing.T) {
	keyDir := t.TempDir()
	entity, keyPath := newSigningKey(t, keyDir)

	doc := []byte(`{"packages":[` + entryJSON("foo", "alpha", "alpha", "1.0") + `,{"broken":true}]}`)
	goodSig := sign(t, entity, doc)
	var mu sync.Mutex
	var served []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served = append(served, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/x86_64/index.json":
			w.Write(doc)
		case "/x86_64/index.json.sig":
			w.Write(goodSig)
		case "/tampered/index.json":
			w.Write(append([]byte(" "), doc...))
		case "/tampered/index.json.sig":
			w.Write(goodSig)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	dir := t.TempDir()
	syncer := NewSyncer(download.NewHTTPFetcherWithClient(ts.Client()), dir, "x86_64", nil)

	t.Run("signed", func(t *testing.T) {
		repo := config.Repository{Name: "main", URL: ts.URL + "/{arch}/index.json", PubKey: keyPath, Enabled: true}
		res, err := syncer.Sync(context.Background(), repo)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if !res.Signed || res.Packages != 1 || res.Skipped != 1 {
			t.Errorf("result = %+v", res)
		}
		stored, err := os.ReadFile(SnapshotPath(dir, "main"))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(stored, doc) {
			t.Error("stored snapshot differs from fetched index")
		}
	})

	t.Run("bad signature keeps previous snapshot", func(t *testing.T) {
		repo := config.Repository{Name: "main", URL: ts.URL + "/tampered/index.json", PubKey: keyPath, Enabled: true}
		_, err := syncer.Sync(context.Background(), repo)
		if !errors.Is(err, ErrBadSignature) {
			t.Fatalf("Sync() error = %v, want ErrBadSignature", err)
		}
		stored, _ := os.ReadFile(SnapshotPath(dir, "main"))
		if !bytes.Equal(stored, doc) {
			t.Error("snapshot replaced despite a bad signature")
		}
	})

	t.Run("unsigned repository", func(t *testing.T) {
		repo := config.Repository{Name: "plain", URL: ts.URL + "/x86_64/index.json", Enabled: true}
		res, err := syncer.Sync(context.Background(), repo)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if res.Signed {
			t.Error("Signed = true for a repository without a key")
		}
	})

	t.Run("missing index", func(t *testing.T) {
		repo := config.Repository{Name: "gone", URL: ts.URL + "/nope.json", Enabled: true}
		_, err := syncer.Sync(context.Background(), repo)
		var se *download.StatusError
		if !errors.As(err, &se) || se.Code != http.StatusNotFound {
			t.Fatalf("Sync() error = %v, want 404 StatusError", err)
		}
		if _, err := os.Stat(SnapshotPath(dir, "gone")); !os.IsNotExist(err) {
			t.Error("no snapshot should be written for a failed sync")
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(strings.Join(served, " "), "/x86_64/index.json.sig") {
		t.Errorf("signature was never fetched: %v", served)
	}
}
