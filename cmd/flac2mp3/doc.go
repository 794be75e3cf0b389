// Package main hosts the flac2mp3 CLI entrypoint and command graph.
//
// The root command transcodes the files and directories given as arguments.
// Subcommands inspect the environment (check), manage the configuration file
// (config init|validate), and browse past runs (history). Flags override the
// TOML configuration for a single invocation.
//
// Keep this package lean: behavior lives in internal/batch and the packages
// it drives; commands here only resolve configuration and map results to
// exit codes.
package main
