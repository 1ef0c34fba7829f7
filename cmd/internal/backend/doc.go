// Package backend implements the metadata and row operations the command router
// needs, on top of the upstream query action. SQL text comes from a Builder so
// identifier escaping stays in one place.
package backend
