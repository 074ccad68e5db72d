package platform

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestInjectPlatformTable_Linux(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := &Info{
		OS:       "linux",
		Arch:     "x86_64",
		ArchRaw:  "amd64",
		Platform: "alpine",
		Family:   FamilyAlpine,
		Version:  "3.20",
		CPUs:     8,
	}
	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	tests := []struct {
		name string
		code string
		want lua.LValue
	}{
		{"os", `return platform.os`, lua.LString("linux")},
		{"arch", `return platform.arch`, lua.LString("x86_64")},
		{"arch_raw", `return platform.arch_raw`, lua.LString("amd64")},
		{"cpus", `return platform.cpus`, lua.LNumber(8)},
		{"is_linux", `return platform.is_linux`, lua.LTrue},
		{"is_musl", `return platform.is_musl`, lua.LTrue},
		{"distro.id", `return platform.distro.id`, lua.LString("alpine")},
		{"distro.version", `return platform.distro.version`, lua.LString("3.20")},
		{"when true", `return platform.when(true, "x")`, lua.LString("x")},
		{"when false", `return platform.when(false, "x")`, lua.LNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := L.DoString(tt.code); err != nil {
				t.Fatalf("failed to execute code: %v", err)
			}
			got := L.Get(-1)
			L.Pop(1)

			if got.Type() != tt.want.Type() {
				t.Errorf("type mismatch: got %v, want %v", got.Type(), tt.want.Type())
				return
			}
			if got.String() != tt.want.String() {
				t.Errorf("value mismatch: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInjectPlatformTable_NoDistro(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: "linux", Arch: "aarch64", CPUs: 1}); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}
	if err := L.DoString(`assert(platform.distro == nil)`); err != nil {
		t.Errorf("distro should be nil: %v", err)
	}
}

func TestInjectPlatformTable_ReadOnly(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: "linux", Arch: "x86_64", CPUs: 1}); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	err := L.DoString(`platform.os = "windows"`)
	if err == nil {
		t.Fatal("expected error when writing to platform table")
	}
	if !strings.Contains(err.Error(), "read-only") {
		t.Errorf("error = %v, want read-only error", err)
	}
}
