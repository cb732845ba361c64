// Package logging configures the process-wide slog logger: JSON lines to a
// rotating file, optionally mirrored to stderr, or a text handler on an
// interactive terminal when no file is configured.
package logging
