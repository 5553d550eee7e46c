package cmd

// Version is the parish release version, overridden at build time via
// -ldflags "-X github.com/parishlabs/parish/internal/cmd.Version=...".
var Version = "0.1.0-dev"
