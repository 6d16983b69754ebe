// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"context"
	"fmt"
	"sync"
	"weak"

	"golang.org/x/sync/singleflight"
)

// Backend is the remote store a Cache fetches from and writes to on a
// cache miss. Implementations are typically a blob store or content
// addressable artifact cache; see mock_backend_test.go for a hand-written test
// double.
type Backend interface {
	Put(ctx context.Context, fp Fingerprint, data []byte) error
	Get(ctx context.Context, fp Fingerprint) ([]byte, error)
}

// Codec translates between a live *V and its serialized form. V is the
// value type; a Cache[V] holds *V pointers to it. Distinguishers are passed
// through unchanged so a Codec that needs parent context to reconstruct a
// value (see §4.5) can use it.
type Codec[V any] interface {
	Encode(v *V) ([]byte, error)
	Decode(data []byte, distinguisher any) (*V, error)
}

// Cache is the two-map fingerprint<->value cache from §4.5, parameterized
// by the value type it caches so both maps can hold a weak.Pointer aimed
// at the caller's own *V rather than at a throwaway wrapper: an entry
// survives exactly as long as something outside the Cache still holds
// that *V, which is what makes it a weak-value map rather than a leak or
// an always-miss. It is safe for concurrent use.
type Cache[V any] struct {
	backend Backend
	codec   Codec[V]

	deserMu sync.Mutex
	deser   map[cacheKey]weak.Pointer[V]
	getFlt  singleflight.Group

	serMu  sync.Mutex
	ser    map[weak.Pointer[V]]Fingerprint
	putFlt singleflight.Group
}

// New returns a Cache backed by backend, using codec to translate values.
func New[V any](backend Backend, codec Codec[V]) *Cache[V] {
	return &Cache[V]{
		backend: backend,
		codec:   codec,
		deser:   make(map[cacheKey]weak.Pointer[V]),
		ser:     make(map[weak.Pointer[V]]Fingerprint),
	}
}

// GetOrClaimGet returns the value for fp, deserializing it from the
// Backend on a miss. Concurrent calls for the same (fp, distinguisher)
// share one Backend.Get + Decode; shared reports whether this call's
// result came from the local map or from a request already in flight,
// corresponding to §4.5's
// get_or_claim_get returning an existing future rather than none.
func (c *Cache[V]) GetOrClaimGet(ctx context.Context, fp Fingerprint, distinguisher any) (value *V, shared bool, err error) {
	key := cacheKey{fp: fp, distinguisher: distinguisher}

	c.deserMu.Lock()
	if wp, ok := c.deser[key]; ok {
		if v := wp.Value(); v != nil {
			c.deserMu.Unlock()
			return v, true, nil
		}
	}
	c.deserMu.Unlock()

	flightKey := fp.String() + "|" + distinguisherKey(distinguisher)
	res, err, wasShared := c.getFlt.Do(flightKey, func() (any, error) {
		data, err := c.backend.Get(ctx, fp)
		if err != nil {
			return nil, err
		}
		return c.codec.Decode(data, distinguisher)
	})
	if err != nil {
		return nil, false, err
	}
	value = res.(*V)

	c.deserMu.Lock()
	c.deser[key] = weak.Make(value)
	c.deserMu.Unlock()

	return value, wasShared, nil
}

// GetOrClaimPut returns the fingerprint for value, serializing and
// writing it to the Backend on a miss. On success it also populates the
// deserialization cache, so a subsequent GetOrClaimGet for the resulting
// fingerprint is satisfied locally without a round trip (§4.5 "On put
// success, the cache populates the reverse map").
func (c *Cache[V]) GetOrClaimPut(ctx context.Context, value *V, distinguisher any) (fp Fingerprint, shared bool, err error) {
	probe := weak.Make(value)

	c.serMu.Lock()
	if fp, ok := c.ser[probe]; ok {
		c.serMu.Unlock()
		return fp, true, nil
	}
	c.serMu.Unlock()

	flightKey := distinguisherKey(value) + "|" + distinguisherKey(distinguisher)
	result, err, wasShared := c.putFlt.Do(flightKey, func() (any, error) {
		data, err := c.codec.Encode(value)
		if err != nil {
			return nil, err
		}
		f := Of(data)
		if err := c.backend.Put(ctx, f, data); err != nil {
			return nil, err
		}
		return f, nil
	})
	if err != nil {
		return Fingerprint{}, false, err
	}
	fp = result.(Fingerprint)

	c.serMu.Lock()
	c.ser[probe] = fp
	c.serMu.Unlock()

	c.deserMu.Lock()
	c.deser[cacheKey{fp: fp, distinguisher: distinguisher}] = weak.Make(value)
	c.deserMu.Unlock()

	return fp, wasShared, nil
}

// Shrink drops entries from both maps whose value has already been
// collected. Intended to be called from the same idle-period maintenance
// pass as engine.Interner.Shrink.
func (c *Cache[V]) Shrink() (removed int) {
	c.deserMu.Lock()
	for k, wp := range c.deser {
		if wp.Value() == nil {
			delete(c.deser, k)
			removed++
		}
	}
	c.deserMu.Unlock()

	c.serMu.Lock()
	for k := range c.ser {
		if k.Value() == nil {
			delete(c.ser, k)
			removed++
		}
	}
	c.serMu.Unlock()
	return removed
}

// distinguisherKey renders d into a string suitable for use as a
// singleflight key: its String method when it has one, %v otherwise. For
// a pointer to a struct, %v prints the pointed-to contents rather than an
// address, so two such values with equal contents get the same key.
func distinguisherKey(d any) string {
	if d == nil {
		return ""
	}
	if s, ok := d.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", d)
}
