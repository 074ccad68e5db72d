package testutil_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/portabin/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	root := testutil.SetupTestEnv(t)

	for _, key := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME"} {
		dir := os.Getenv(key)
		if dir == "" {
			t.Errorf("%s not set", key)
			continue
		}
		if !strings.HasPrefix(dir, root) {
			t.Errorf("%s = %s, want it under %s", key, dir, root)
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("directory %s does not exist", dir)
		}
		if !filepath.IsAbs(dir) {
			t.Errorf("path %s is not absolute", dir)
		}
	}

	if os.Getenv("PORTABIN_TEST_MODE") != "1" {
		t.Errorf("PORTABIN_TEST_MODE = %q, want \"1\"", os.Getenv("PORTABIN_TEST_MODE"))
	}
}

func TestSetupTestEnv_Isolation(t *testing.T) {
	testutil.SetupTestEnv(t)
	dir1 := os.Getenv("XDG_DATA_HOME")

	t.Run("subtest", func(t *testing.T) {
		testutil.SetupTestEnv(t)
		dir2 := os.Getenv("XDG_DATA_HOME")

		if dir1 == dir2 {
			t.Error("expected different temp directories for different test contexts")
		}
	})
}
