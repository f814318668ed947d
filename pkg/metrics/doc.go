/*
Package metrics defines the Prometheus metrics exposed by robocap.

Metrics are declared as package variables and registered once via
Register. The record loop, saver, image writer, bus, memory guard, and
offload orchestrator update them directly; there is no polling
collector because every producer already owns a loop.
*/
package metrics
