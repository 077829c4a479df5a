// Package crypt holds the transforms applied to firmware partitions that are
// stored obfuscated on flash.
//
// A Registry maps partition names to a Transform. Extraction code asks the
// registry whether a partition is encrypted and, if so, decrypts a copy of its
// payload; the input buffer is never modified.
//
//	reg := crypt.DefaultRegistry()
//	if reg.Encrypted("app") {
//	    plain, err := reg.Decrypt("app", header.Algorithm, payload, 0x10000)
//	    if errors.Is(err, crypt.ErrUnsupportedEncoding) {
//	        // keep the raw payload only
//	    }
//	}
package crypt

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnsupportedEncoding is returned when a payload cannot be transformed
// because its algorithm tag or partition name is not supported.
var ErrUnsupportedEncoding = errors.New("crypt: unsupported encoding")

// Transform is a deterministic, stateless and invertible payload transform.
// Implementations must not modify their input.
type Transform interface {
	Decrypt(data []byte, address uint32) []byte
	Encrypt(data []byte, address uint32) []byte
}

// Registry maps partition names to transforms. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transform)}
}

// DefaultRegistry returns a registry with the placeholder CodeCipher
// registered for the "app" partition.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("app", NewCodeCipher(CodePartitionCoefficients))
	return r
}

// Register associates a transform with a partition name, replacing any
// previous one.
func (r *Registry) Register(name string, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = t
}

// Encrypted reports whether the named partition has a registered transform.
func (r *Registry) Encrypted(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns the registered partition names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decrypt returns the plain text of a partition payload. The algorithm tag is
// the one declared by the payload's RBL header: payloads that are themselves
// OTA-encrypted or carry an unknown tag are rejected with
// ErrUnsupportedEncoding.
func (r *Registry) Decrypt(name string, algo Algorithm, data []byte, address uint32) ([]byte, error) {
	t, err := r.transformFor(name, algo)
	if err != nil {
		return nil, err
	}
	return t.Decrypt(data, address), nil
}

// Encrypt is the inverse of Decrypt.
func (r *Registry) Encrypt(name string, algo Algorithm, data []byte, address uint32) ([]byte, error) {
	t, err := r.transformFor(name, algo)
	if err != nil {
		return nil, err
	}
	return t.Encrypt(data, address), nil
}

func (r *Registry) transformFor(name string, algo Algorithm) (Transform, error) {
	if !algo.Known() {
		return nil, fmt.Errorf("%w: partition %q has unknown algorithm tag 0x%08X", ErrUnsupportedEncoding, name, uint32(algo))
	}
	if algo.Encryption() != EncryptNone {
		return nil, fmt.Errorf("%w: partition %q uses %s, no key material available", ErrUnsupportedEncoding, name, algo)
	}

	t, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: no transform registered for partition %q", ErrUnsupportedEncoding, name)
	}
	return t, nil
}

func (r *Registry) lookup(name string) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[name]
	return t, ok
}
