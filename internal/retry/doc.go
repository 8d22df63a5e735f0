// Package retry computes restart delays for crashed encoder processes.
//
// A Calculator combines a growth strategy (linear, exponential, fibonacci),
// a delay cap, and optional proportional jitter. Delays never drop below
// MinDelay so a crash loop cannot become a busy loop.
package retry
