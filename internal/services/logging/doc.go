// Package logging provides the slog setup shared by the runtime
// services: a hot-swappable handler so the level, console, and file
// sinks can change on config reload without replacing logger values
// already handed to components.
package logging
