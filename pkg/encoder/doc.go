// Package encoder wraps the external video encoder. The hardware
// (NPU) path is tried first when enabled, with a software fallback on
// channel exhaustion; a fallback failure is fatal for that episode.
package encoder
