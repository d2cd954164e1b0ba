package aff4

import "github.com/google/uuid"

// URNPrefix is the scheme this package mints opaque identifiers under.
const URNPrefix = "urn:aff4:"

// NewURN returns a fresh opaque URN of the form "urn:aff4:<uuid>",
// suitable for naming a new stream or volume that has no natural name
// of its own (e.g. an image acquired from a raw device with no prior
// AFF4 identity).
func NewURN() string {
	return URNPrefix + uuid.New().String()
}
