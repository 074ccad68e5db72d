package config

// Lua schema field names and globals
const (
	luaGlobal           = "portabin"
	luaFieldProfile     = "profile"
	luaFieldConcurrency = "concurrency"
	luaFieldLogLevel    = "log_level"
	luaFieldProfiles    = "profiles"
	luaFieldRepos       = "repositories"
	luaFieldRoot        = "root"
	luaFieldDefaultProv = "default_provider"
	luaFieldBinDir      = "bin_dir"
	luaFieldCacheDir    = "cache_dir"
	luaFieldName        = "name"
	luaFieldURL         = "url"
	luaFieldPubKey      = "pubkey"
	luaFieldEnabled     = "enabled"
)

// Defaults and limits.
const (
	// DefaultProfileName is used when neither the flag nor the config names a
	// profile.
	DefaultProfileName = "default"

	// MaxConcurrency caps the download worker pool.
	MaxConcurrency = 64

	// MaxRepositories caps the number of configured repositories.
	MaxRepositories = 32

	// ArchPlaceholder is substituted in repository URLs.
	ArchPlaceholder = "{arch}"
)
