/*
Package teleop maps leader-arm joint readings to follower-arm joint
commands and enforces the deviation safety envelope.

The mapper captures a pose baseline at the first leader sample and
emits only relative motion on top of the follower's starting pose.
Per-joint direction signs absorb the mechanical mirroring between the
arms. Deviation between the computed target and the most recent
follower reading drives a two-level response: a rate-limited warning,
then a terminal emergency stop that suppresses all further commands
until the process restarts.
*/
package teleop
