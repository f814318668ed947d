// Package memguard samples process RSS at a tick cadence and trips a
// sticky flag when the configured limit is crossed. RSS includes shared
// pages, which overestimates dataset memory slightly; it is kept for
// implementability and the auto-stop bound holds regardless.
package memguard
