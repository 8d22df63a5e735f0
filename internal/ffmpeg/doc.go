// Package ffmpeg builds the encoder invocation for a broadcast: a concat
// input, a split/scale filter graph feeding an HLS preview ladder, and an
// FLV push of the primary profile. It also prunes stale preview output.
package ffmpeg
