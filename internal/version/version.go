// Package version holds the build-time version string, overridden via
// -ldflags "-X github.com/user/hipo/internal/version.Version=..." in release
// builds.
package version

// Version is the current build version, "dev" when built without ldflags.
var Version = "dev"
