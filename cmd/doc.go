// Package cmd implements the command-line interface of ixmap. Every command
// opens the map in the configured directory, performs its operation and closes
// the map again, which commits all writes.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for map operations (put, get, del, has, has-value, size,
//     list, clear), the stats command and the perf benchmark
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Configuration:
//
//	All flags can also be set with environment variables prefixed with IXMAP_
//	(e.g. IXMAP_DIR, IXMAP_CONSISTENCY, IXMAP_LOG_LEVEL). The files .env and
//	.env.local in the working directory are loaded on start.
//
// See ixmap -help for a list of all commands.
package cmd
