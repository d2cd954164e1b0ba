package imagestream

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/aff4kit/imagestream/aff4"
	"github.com/aff4kit/imagestream/resolver"
	"github.com/aff4kit/imagestream/volume"
)

// Constructor opens an existing stream of a registered type for
// reading, given its URN, the resolver holding its properties, and the
// volume reader holding its bevies.
type Constructor func(res resolver.Resolver, vr *volume.Reader, urn string) (*Stream, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Constructor{
		aff4.TypeImageStream: openImageStream,
	}
)

// RegisterType associates a stream type URN with the constructor used to
// open it. It is meant to be called from package init functions, adding
// sibling stream types alongside aff4:ImageStream without growing a type
// switch at every call site.
func RegisterType(typeURN string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeURN] = ctor
}

// OpenByType looks up urn's rdf:type in res and dispatches to the
// registered constructor for that type.
func OpenByType(res resolver.Resolver, vr *volume.Reader, urn string) (*Stream, error) {
	typeURN, err := res.Get(urn, aff4.PropType)
	if err != nil {
		return nil, err
	}
	registryMu.Lock()
	ctor, ok := registry[typeURN]
	registryMu.Unlock()
	if !ok {
		return nil, errors.Wrapf(aff4.ErrNotImplemented, "stream type %q", typeURN)
	}
	return ctor(res, vr, urn)
}
