// Package logging configures structured slog output for amanrag.
//
// Logs are JSON records. Without --debug only warnings and errors reach
// stderr; with --debug, debug records are also written to a rotating file
// under ~/.amanrag/logs/.
package logging
