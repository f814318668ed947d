/*
Package bus implements the logical dataflow bus between nodes.

Every topic keeps a single-slot latest value: a new publish overwrites
the old one and consumers read the latest. This matches the timing
contract of the record loop — a tick that falls behind never sees a
queue of stale payloads, only the freshest sample. Optional fan-out
subscribers receive payloads on buffered channels with a drop-on-full
policy; a slow subscriber loses frames, it never blocks the publisher.
*/
package bus
