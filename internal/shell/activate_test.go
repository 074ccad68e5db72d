package shell

import (
	"os/exec"
	"strings"
	"testing"
)

func TestGenerateActivationCommand(t *testing.T) {
	tests := []struct {
		name    string
		shell   ShellType
		want    string
		wantErr bool
	}{
		{
			name:  "Bash activation",
			shell: ShellBash,
			want:  `eval "$(portabin env --shell bash)"`,
		},
		{
			name:  "Zsh activation",
			shell: ShellZsh,
			want:  `eval "$(portabin env --shell zsh)"`,
		},
		{
			name:  "Fish activation",
			shell: ShellFish,
			want:  "portabin env --shell fish | source",
		},
		{
			name:    "Unknown shell",
			shell:   ShellUnknown,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateActivationCommand(tt.shell)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateActivationCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("GenerateActivationCommand() = %v, want %v", got, tt.want)
			}
			if !tt.wantErr && !strings.Contains(got, ActivationMarker) {
				t.Errorf("GenerateActivationCommand() should contain %q, got: %v", ActivationMarker, got)
			}
		})
	}
}

func TestPathSnippet(t *testing.T) {
	t.Run("posix shells export and guard", func(t *testing.T) {
		got, err := PathSnippet(ShellBash, "/home/u/.local/share/portabin/bin")
		if err != nil {
			t.Fatalf("PathSnippet() error = %v", err)
		}
		for _, want := range []string{
			"export PORTABIN_BIN='/home/u/.local/share/portabin/bin'",
			`case ":$PATH:" in`,
			`export PATH='/home/u/.local/share/portabin/bin'"${PATH:+:$PATH}"`,
		} {
			if !strings.Contains(got, want) {
				t.Errorf("snippet missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("fish", func(t *testing.T) {
		got, err := PathSnippet(ShellFish, "/opt/bin")
		if err != nil {
			t.Fatalf("PathSnippet() error = %v", err)
		}
		if !strings.Contains(got, "set -gx PORTABIN_BIN '/opt/bin'") || !strings.Contains(got, "contains -- '/opt/bin' $PATH; or set -gx PATH '/opt/bin' $PATH") {
			t.Errorf("unexpected fish snippet:\n%s", got)
		}
	})

	t.Run("quotes single quotes", func(t *testing.T) {
		got, _ := PathSnippet(ShellZsh, "/tmp/it's")
		if !strings.Contains(got, `'/tmp/it'\''s'`) {
			t.Errorf("path not quoted safely:\n%s", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := PathSnippet(ShellUnknown, "/bin"); err == nil {
			t.Error("expected error for unknown shell")
		}
		if _, err := PathSnippet(ShellBash, ""); err == nil {
			t.Error("expected error for empty bin dir")
		}
	})
}

func TestPathSnippet_EvaluatesInBash(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}
	snippet, err := PathSnippet(ShellBash, "/opt/portabin bin")
	if err != nil {
		t.Fatal(err)
	}

	// Evaluating twice must not duplicate the entry.
	script := "PATH=/usr/bin\n" + snippet + snippet + `printf '%s' "$PATH"`
	out, err := exec.Command(bash, "--noprofile", "--norc", "-c", script).Output()
	if err != nil {
		t.Fatalf("bash failed: %v", err)
	}
	if got := string(out); got != "/opt/portabin bin:/usr/bin" {
		t.Errorf("PATH = %q", got)
	}
}
