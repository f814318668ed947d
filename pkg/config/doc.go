/*
Package config resolves the session configuration from three layers
with fixed precedence: environment variables, the key=value device
config file, then hard-coded defaults. The layer that provided each
field is recorded and logged at startup.

The device file format tolerates inline comments and quoted values.
Hardware-identifying fields (camera paths, arm ports) are regenerated
by the detection tool through WriteHardwareFields; all other lines of
the file survive regeneration verbatim.
*/
package config
