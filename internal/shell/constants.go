package shell

// Environment variable names used by the shell integration.
const (
	// EnvBinDir is exported by the PATH snippet so scripts can find the
	// active profile's bin directory.
	EnvBinDir = "PORTABIN_BIN"
)

// Activation and backup markers
const (
	// ActivationMarker is the string that must appear in activation commands
	ActivationMarker = "portabin env --shell"

	// BackupSuffix is appended to the rc file name for backups
	BackupSuffix = ".portabin-backup"

	// SectionComment precedes the activation line in rc files
	SectionComment = "# portabin: portable binaries on PATH"
)
