// Package config loads, normalizes, and validates streamhost configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours the STREAMHOST_DESTINATION environment fallback.
// The Config type carries every knob the daemon and CLI need so directory
// layout, encoder settings, and restart policy are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
