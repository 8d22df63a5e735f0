// Package concat writes the list-of-files manifest consumed by ffmpeg's
// concat demuxer and owns the temporary directory that holds it.
package concat
