// Package resolver implements the external property store every image
// stream consults on open and updates on flush: a process-wide mapping
// of (subject URN, property URN) to value. Two interchangeable backends
// are provided: a JSON-per-subject store and an embedded-SQL store.
package resolver

import (
	"errors"

	"github.com/aff4kit/imagestream/aff4"
)

// Resolver is the property store contract the image stream depends on.
// Values are stored and returned as strings; integer properties (chunk
// size, chunks per segment, stream size) are encoded in decimal.
type Resolver interface {
	// Get returns the value of property on subject, or
	// aff4.ErrNotFound if no such tuple exists.
	Get(subject, property string) (string, error)
	// Set records the value of property on subject, overwriting any
	// prior value.
	Set(subject, property, value string) error
}

// GetDefault returns the value of property on subject, or def if the
// tuple is not found. Any other error is returned unchanged.
func GetDefault(r Resolver, subject, property, def string) (string, error) {
	v, err := r.Get(subject, property)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, aff4.ErrNotFound) {
		return def, nil
	}
	return "", err
}
