/*
Package offload implements the post-episode hand-off: transporting the
dataset off the robot, driving the remote training transaction, and
retrieving the trained model.

Five session modes exist; only cloud-raw, edge, and cloud-encoded
upload. The edge transfer defaults to a single uncompressed tar over
SFTP with a per-file mirror as fallback, always under the user-scoped
remote path. Training completion is detected by polling the service
status with a filesystem existence check as ground-truth fallback,
because the status flag is known to lag. The model is fetched over SFTP
directly from the cloud instance. Transactions persist in a bbolt store
so --skip-upload and --download-only can resume an interrupted session.
*/
package offload
