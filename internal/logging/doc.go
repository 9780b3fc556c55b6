// Package logging configures log/slog for the retrieval engine and its CLI.
// Logs are JSON records written to a size-rotated file under ~/.blackia/logs/
// and optionally mirrored to stderr.
package logging
