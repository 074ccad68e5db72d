// Package shell puts portabin's bin directory on the user's PATH.
//
// It detects the user's shell (bash, zsh, fish), prints the snippet that
// prepends the active profile's bin directory to PATH, and can add a line
// evaluating that snippet to the shell's rc file:
//
//	# bash / zsh
//	eval "$(portabin env --shell bash)"
//
//	# fish
//	portabin env --shell fish | source
//
// Detection tries $SHELL first and falls back to the name of the parent
// process. Rc file edits are idempotent, optionally backed up, and written
// through a temporary file and rename. Symlinked rc files are refused.
package shell
