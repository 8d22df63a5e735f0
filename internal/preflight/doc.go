// Package preflight provides readiness checks for the paths, binaries, and
// push destination the daemon depends on.
//
// The daemon runs RunAll before accepting a start request so an unusable
// host fails fast with a readable reason instead of burning the restart
// budget. "streamhost deps" renders the same results.
package preflight
