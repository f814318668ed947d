/*
Package episode implements the bounded-memory, monotonically indexed
episode buffer and its promotion to an immutable Episode.

The buffer is owned by the record loop. Promotion to the save pipeline
is an atomic swap under the buffer mutex: the drained contents become
an Episode value the caller owns, and the live buffer restarts empty at
the next index. Timestamps are derived, never sampled: frame_index/fps,
strictly increasing within an episode.
*/
package episode
