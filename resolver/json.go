package resolver

import (
	"encoding/json"
	"log"

	"github.com/pkg/errors"

	"github.com/aff4kit/imagestream/aff4"
	"github.com/aff4kit/imagestream/store"
)

// JSONResolver stores one JSON document per subject URN in a
// store.Store. It is simple and human-inspectable, suited to
// single-writer acquisition sessions and tests.
type JSONResolver struct {
	s store.Store
}

// NewJSON returns a JSONResolver backed by s. Subject URNs are used
// directly as store keys, so s should not be shared with an image
// stream's volume blobs unless wrapped with store.NewResolverStore.
func NewJSON(s store.Store) *JSONResolver {
	return &JSONResolver{s: s}
}

type record map[string]string

func (jr *JSONResolver) load(subject string) (record, error) {
	r, _, err := jr.s.Open(subject)
	if err != nil {
		return make(record), nil
	}
	defer r.Close()
	var rec record
	dec := json.NewDecoder(store.NewReader(r))
	if err := dec.Decode(&rec); err != nil {
		return nil, errors.Wrapf(aff4.ErrIoError, "decode record %q: %s", subject, err.Error())
	}
	return rec, nil
}

func (jr *JSONResolver) save(subject string, rec record) error {
	if err := jr.s.Delete(subject); err != nil {
		return errors.Wrapf(aff4.ErrIoError, "save record %q: %s", subject, err.Error())
	}
	w, err := jr.s.Create(subject)
	if err != nil {
		return errors.Wrapf(aff4.ErrIoError, "save record %q: %s", subject, err.Error())
	}
	enc := json.NewEncoder(w)
	err = enc.Encode(rec)
	err2 := w.Close()
	if err == nil {
		err = err2
	} else if err2 != nil {
		log.Println(subject, err2)
	}
	if err != nil {
		return errors.Wrapf(aff4.ErrIoError, "save record %q: %s", subject, err.Error())
	}
	return nil
}

// Get returns the value of property on subject, or aff4.ErrNotFound if
// either the subject record or the property within it is absent.
func (jr *JSONResolver) Get(subject, property string) (string, error) {
	rec, err := jr.load(subject)
	if err != nil {
		return "", err
	}
	v, ok := rec[property]
	if !ok {
		return "", errors.Wrapf(aff4.ErrNotFound, "%s %s", subject, property)
	}
	return v, nil
}

// Set records the value of property on subject, creating the subject's
// record if it does not already exist.
func (jr *JSONResolver) Set(subject, property, value string) error {
	rec, err := jr.load(subject)
	if err != nil {
		return err
	}
	rec[property] = value
	return jr.save(subject, rec)
}
