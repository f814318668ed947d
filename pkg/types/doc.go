/*
Package types defines the core data model shared by all robocap
components: joint unit systems and bus specifications, dataflow
payloads, per-tick frames, lifecycle state enums, and offload
transactions.

A joint vector is meaningful only together with the bus it came from;
conversion between bus unit systems is always explicit via Convert or
UnitScale. All joints of one bus share one unit system — BusSpec.Validate
rejects mixed declarations.
*/
package types
