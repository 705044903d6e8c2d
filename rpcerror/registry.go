package rpcerror

import (
	"encoding/json"
	"sync"
)

// Constructor rebuilds a local error from the kind-specific message and
// detail of a failure envelope. Returning nil means the envelope could not be
// rehydrated and the generic *RemoteError is used instead.
type Constructor func(message string, detail json.RawMessage) error

// Registry maps wire kinds to local error constructors.
// The zero value is empty and ready to use; it is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds kind to ctor, replacing any previous binding.
func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.kinds == nil {
		r.kinds = make(map[string]Constructor)
	}
	r.kinds[kind] = ctor
}

// Kinds returns the number of registered kinds.
func (r *Registry) Kinds() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds)
}

func (r *Registry) lookup(kind string) (Constructor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.kinds[kind]
	return ctor, ok
}

// Rehydrate turns a failure envelope into an error. It never panics: an
// unknown kind, a nil result or a panicking constructor all fall back to a
// *RemoteError built from kind and message.
func (r *Registry) Rehydrate(kind, message string, detail json.RawMessage) error {
	fallback := &RemoteError{Kind: kind, Message: message, Detail: detail}

	ctor, ok := r.lookup(kind)
	if !ok || ctor == nil {
		return fallback
	}
	if err := safeConstruct(ctor, message, detail); err != nil {
		return err
	}
	return fallback
}

func safeConstruct(ctor Constructor, message string, detail json.RawMessage) (err error) {
	defer func() {
		if recover() != nil {
			err = nil
		}
	}()
	return ctor(message, detail)
}
