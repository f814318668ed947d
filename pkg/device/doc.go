/*
Package device defines the adapter interfaces the core consumes from
arm and camera hardware, plus a variant registry and sim
implementations.

The wire protocols are out of scope: a MotorBus driver exposes only
ReadPositions/WritePositions in the bus's native integer units, and a
Camera exposes Capture. Drivers register constructors under a variant
name (serial-zhonglin-leader, feetech-leader, piper-can-follower,
opencv-camera, realsense-camera); the sim variants in this package back
tests and bench sessions.
*/
package device
