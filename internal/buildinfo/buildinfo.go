// Package buildinfo carries version metadata stamped at link time.
package buildinfo

// Version is overridden with -ldflags "-X go2tv.app/render-bridge/internal/buildinfo.Version=...".
var Version = "dev"
