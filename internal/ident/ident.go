// Package ident generates client-side identifiers. Sessions, sets, and
// transport idempotency keys all use random 128-bit UUIDs so that ids minted
// on any device, at any time, never collide in practice. A counter or
// timestamp scheme would risk merging two distinct sessions under one id
// after a clock reset or reinstall, which the server could not detect.
package ident

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID. Used to sanity-check ids on
// drafts that arrive from outside the process (spool files, resumed edits).
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
