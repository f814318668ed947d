/*
Package ipc bridges the dataflow graph to the controlling CLI over two
named request/reply sockets: one for image frames, one for joint
vectors.

The bridge is lazy — no socket is bound until Connect — and every
request is answered within the reply deadline, with an empty payload
when the topic has no data yet. Client-side deadline misses are silent:
they are the normal pull idle signal, and logging them would bury real
faults. Action commands flow the other way, re-injected onto the graph
bus for the follower node.
*/
package ipc
