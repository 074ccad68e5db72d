package platform

import (
	"context"
	"runtime"
	"testing"
)

func TestRealDetector_Detect(t *testing.T) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" && runtime.GOARCH != "riscv64" {
		t.Skipf("unsupported test architecture %s", runtime.GOARCH)
	}

	info, err := NewDetector().Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if info.OS != runtime.GOOS {
		t.Errorf("OS = %v, want %v", info.OS, runtime.GOOS)
	}
	if info.ArchRaw != runtime.GOARCH {
		t.Errorf("ArchRaw = %v, want %v", info.ArchRaw, runtime.GOARCH)
	}
	if info.Arch == "" {
		t.Error("Arch should not be empty")
	}
	if info.CPUs < 1 {
		t.Errorf("CPUs = %d, want >= 1", info.CPUs)
	}
	if info.Platform != "" && info.Family == "" {
		t.Error("Family should be set when Platform is set")
	}
}

func TestRealDetector_CancelledContext(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("distro detection only runs on linux")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// gopsutil may answer from cache before noticing cancellation; either a
	// result or a cancellation error is acceptable, but never a partial info
	// together with an error.
	info, err := NewDetector().Detect(ctx)
	if err != nil && info != nil {
		t.Errorf("Detect() returned both info and error: %v", err)
	}
}

func TestStaticDetector(t *testing.T) {
	want := &Info{OS: "linux", Arch: "x86_64", CPUs: 4}
	got, err := StaticDetector{Info: want}.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if got != want {
		t.Errorf("Detect() = %+v, want %+v", got, want)
	}
}

func TestInfo_IsMusl(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want bool
	}{
		{"alpine", Info{OS: "linux", Family: FamilyAlpine}, true},
		{"debian", Info{OS: "linux", Family: FamilyDebian}, false},
		{"darwin", Info{OS: "darwin", Family: FamilyAlpine}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.IsMusl(); got != tt.want {
				t.Errorf("IsMusl() = %v, want %v", got, tt.want)
			}
		})
	}
}
