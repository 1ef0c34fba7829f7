// Package audit records connection lifecycle events.
//
// Every event is logged through slog. When a Writer is configured, events are
// also queued for a background worker that persists them in batches with
// exponential backoff. Tokens never reach the audit trail; only fingerprints do.
package audit
