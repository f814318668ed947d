/*
Package supervisor owns the process lifecycle around a recording
session: the device permission gate, stale socket and lingering process
cleanup, dataflow graph launch with the IPC readiness wait, the settle
delay, escalating signal handling, and the multi-phase shutdown that
releases devices before any SIGKILL.
*/
package supervisor
