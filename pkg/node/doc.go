/*
Package node implements the dataflow node runtime and the concrete
nodes of the teleoperation graph.

Each node is a single-threaded event loop over two event kinds: timer
ticks at the node's period and input payloads from subscribed topics.
The runtime owns the lifecycle (Starting → Connecting → Running →
Draining → Stopped), retries device opens, tracks consecutive
communication errors, warns on tick overruns, and guarantees device
release before the loop exits — on STOP, on a fatal error, and within
the drain grace.

The concrete nodes: CameraNode and LeaderNode sample their devices on
tick; FollowerNode publishes its joint state and executes throttled
action commands; TeleopNode holds the leader→follower mapper between
them and owns no device.
*/
package node
