package shell

import (
	"fmt"
	"strings"
)

// GenerateActivationCommand returns the line users add to their rc file.
func GenerateActivationCommand(shell ShellType) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}

	switch shell {
	case ShellBash, ShellZsh:
		return fmt.Sprintf(`eval "$(%s %s)"`, ActivationMarker, shell), nil
	case ShellFish:
		return fmt.Sprintf("%s %s | source", ActivationMarker, shell), nil
	default:
		return "", &UnsupportedShellError{Shell: shell.String()}
	}
}

// PathSnippet returns shell code that exports EnvBinDir and prepends binDir
// to PATH unless it is already there. Evaluating it twice is harmless.
func PathSnippet(shell ShellType, binDir string) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}
	if binDir == "" {
		return "", fmt.Errorf("bin directory is required")
	}

	q := quote(binDir)
	var b strings.Builder
	switch shell {
	case ShellBash, ShellZsh:
		fmt.Fprintf(&b, "export %s=%s\n", EnvBinDir, q)
		fmt.Fprintf(&b, "case \":$PATH:\" in\n  *:%s:*) ;;\n  *) export PATH=%s\"${PATH:+:$PATH}\" ;;\nesac\n", q, q)
	case ShellFish:
		fmt.Fprintf(&b, "set -gx %s %s\n", EnvBinDir, q)
		fmt.Fprintf(&b, "contains -- %s $PATH; or set -gx PATH %s $PATH\n", q, q)
	}
	return b.String(), nil
}

// quote single-quotes s for POSIX shells and fish.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
