/*
Package record runs the recording loop: at each bus tick it pulls the
latest observation (camera frames plus follower state) and the action
emitted for the tick, and appends them to the episode buffer under its
lock.

A tick with a missing camera is skipped, never stalled — lost ticks are
acceptable, temporally misaligned frames are not. Operator commands
(save-and-next, proceed, exit, abort) arrive on a channel. Save-and-next
enters a reset phase in which appends pause while the operator
rearranges the scene; proceed resumes recording, and an unattended
reset auto-proceeds after a timeout. Exit from any state, including the
reset phase, takes the same finalize path. The memory guard is polled
on the tick cadence and ends the session like an operator exit.
*/
package record
