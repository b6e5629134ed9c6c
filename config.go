package iview

// Configuration groups CLI-level settings as a plain struct, independent
// of viper, so this package stays free of CLI/config framework imports.
// Nothing in this module fills it in or reads it: cmd/go-iview binds its
// flags straight into FetchOptions.
type Configuration struct {
	OutputDir string
	Resume    bool
	Quiet     bool
	ProxyAddr string
	SWFPath   string

	// AkamaiKey is the static HMAC-SHA256 signing key for
	// PlayerVerification, configured out of band rather than recovered
	// from the manifest.
	AkamaiKey []byte
	// AkamaiHDPlayer is the fixed "player" string mixed into every
	// player-verification token's signed message. If empty and SWFPath
	// is set, the SWF file's hash is used instead.
	AkamaiHDPlayer string
}

// AuthResult models the outcome of ABC iview's separate authentication
// flow. That flow is not implemented here, but the type is named so a
// future cmd/ integration has a place to plug an auth token into
// FetchOptions without changing this package's shape.
type AuthResult struct {
	Token string
	Valid bool
}
