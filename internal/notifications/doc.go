// Package notifications delivers run outcomes via ntfy.
//
// The topic comes from config.toml (or PAPERPIPE_NTFY_TOPIC) and may be a
// bare ntfy.sh topic name or a full URL. Without a topic the service is a
// no-op, so the pipeline publishes unconditionally.
package notifications
