package shell

import (
	"context"
	"testing"
)

func stubParent(t *testing.T, name string) {
	t.Helper()
	orig := parentProcess
	parentProcess = func(context.Context) string { return name }
	t.Cleanup(func() { parentProcess = orig })
}

func TestDetectShell(t *testing.T) {
	tests := []struct {
		name           string
		shellEnv       string
		parent         string
		wantShell      ShellType
		wantMethod     string
		wantConfidence Confidence
	}{
		{
			name:           "Bash from SHELL",
			shellEnv:       "/bin/bash",
			wantShell:      ShellBash,
			wantMethod:     "$SHELL environment variable",
			wantConfidence: "high",
		},
		{
			name:           "Zsh from SHELL",
			shellEnv:       "/usr/bin/zsh",
			wantShell:      ShellZsh,
			wantMethod:     "$SHELL environment variable",
			wantConfidence: "high",
		},
		{
			name:           "Fish from SHELL wins over parent",
			shellEnv:       "/usr/local/bin/fish",
			parent:         "/bin/bash",
			wantShell:      ShellFish,
			wantMethod:     "$SHELL environment variable",
			wantConfidence: "high",
		},
		{
			name:           "Unsupported SHELL falls back to parent",
			shellEnv:       "/bin/ksh",
			parent:         "/usr/bin/zsh",
			wantShell:      ShellZsh,
			wantMethod:     "parent process",
			wantConfidence: "medium",
		},
		{
			name:           "Login shell parent",
			parent:         "-bash",
			wantShell:      ShellBash,
			wantMethod:     "parent process",
			wantConfidence: "medium",
		},
		{
			name:           "Nothing recognisable",
			parent:         "go",
			wantShell:      ShellUnknown,
			wantMethod:     "detection failed",
			wantConfidence: "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SHELL", tt.shellEnv)
			stubParent(t, tt.parent)

			result, err := DetectShell(context.Background())
			if err != nil {
				t.Fatalf("DetectShell() error = %v", err)
			}
			if result.Shell != tt.wantShell {
				t.Errorf("DetectShell() shell = %v, want %v", result.Shell, tt.wantShell)
			}
			if result.Method != tt.wantMethod {
				t.Errorf("DetectShell() method = %v, want %v", result.Method, tt.wantMethod)
			}
			if result.Confidence != tt.wantConfidence {
				t.Errorf("DetectShell() confidence = %v, want %v", result.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestDetectShell_CancelledContext(t *testing.T) {
	t.Setenv("SHELL", "")
	stubParent(t, "/bin/bash")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := DetectShell(ctx); err == nil {
		t.Error("DetectShell() should fail with cancelled context")
	}
}

func TestParseShell(t *testing.T) {
	tests := []struct {
		in      string
		want    ShellType
		wantErr bool
	}{
		{"bash", ShellBash, false},
		{"ZSH", ShellZsh, false},
		{"/usr/bin/fish", ShellFish, false},
		{"powershell", ShellUnknown, true},
		{"", ShellUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseShell(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseShell(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseShell(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateShell(t *testing.T) {
	for _, s := range GetSupportedShells() {
		if err := ValidateShell(s); err != nil {
			t.Errorf("ValidateShell(%s) error = %v", s, err)
		}
	}
	if err := ValidateShell(ShellUnknown); err == nil {
		t.Error("ValidateShell(unknown) should fail")
	}
}
