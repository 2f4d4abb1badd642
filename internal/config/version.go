package config

// Version is the intervene binary version.
// Set at build time via: -ldflags "-X github.com/assistio/intervene/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
