// Package logging assembles the slog loggers used across streamhost.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// field names shared by every component (session, correlation, event type,
// error hints). Tests and optional wiring use NewNop.
package logging
