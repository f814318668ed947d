/*
Package imagewriter encodes PNG frames off the recording thread.

The queue is unbounded: applying back-pressure to the record loop would
temporally misalign training frames, which is worse than memory growth.
Memory is governed by the memory auto-stop guard instead. Write errors
drop the frame and acknowledge the task so the queue always drains; the
saver discovers missing frames through WaitEpisode's drop count and
fails that episode cleanly.
*/
package imagewriter
