// Package version holds the build version reported by /api/version.
package version

// Version is overridden at build time with -ldflags "-X geofollow/pkg/version.Version=...".
var Version = "v0.3.0"
