/*
Package saver persists episodes asynchronously so recording never
blocks on IO.

Each queued task owns a deep copy of its episode. The worker waits for
the episode's PNG frames to flush (dynamic timeout), writes the
columnar file, runs the video encoder unless the session skips local
encoding, verifies the files this episode was supposed to produce —
global file counts are never used, because failed tasks legitimately
leave gaps — and appends dataset metadata last. Transient failures retry
with exponential backoff from the untouched copy; validation and
flush failures do not retry.
*/
package saver
