// Package replay remembers accepted request signatures for the length of the
// replay window so a captured request cannot be submitted twice.
package replay
