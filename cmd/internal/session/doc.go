// Package session implements gridlink's in-memory session registry.
//
// A session binds an opaque bearer token to the upstream connection target
// (host, port, namespace, path prefix, transport) and the credentials used to
// reach it. Expiry is a sliding window measured from the last validated access.
//
// Removal (explicit destroy, replacement on reconnect, or idle expiry) is
// serialized under one mutex so that exactly one caller observes each removal
// and exactly one notification is fired to subscribers.
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
