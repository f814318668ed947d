/*
Package graph declares and runs the dataflow graph.

A Spec (YAML topology) lists the nodes of the cell: cameras, the
leader reader, the follower actuator, the teleop mapper, and the IPC
bridge. The Coordinator hosts them as independent single-threaded event
loops on a shared bus inside one subprocess; the Launcher spawns and
supervises that subprocess from the CLI, with a SIGTERM-first shutdown
so device handles are released before any SIGKILL.
*/
package graph
