// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"context"
	"testing"

	"go.uber.org/mock/gomock"
)

type stringCodec struct{}

func (stringCodec) Encode(v *string) ([]byte, error) {
	return []byte(*v), nil
}

func (stringCodec) Decode(data []byte, _ any) (*string, error) {
	s := string(data)
	return &s, nil
}

func TestCacheGetOrClaimPutThenGetRoundTrips(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := newMockBackend(ctrl)
	c := New(backend, stringCodec{})

	value := new(string)
	*value = "hello world"

	fp, shared, err := c.GetOrClaimPut(context.Background(), value, nil)
	if err != nil {
		t.Fatalf("GetOrClaimPut: %v", err)
	}
	if shared {
		t.Fatalf("first put should not be shared")
	}
	if backend.putCount() != 1 {
		t.Fatalf("expected exactly one Backend.Put, got %d", backend.putCount())
	}

	got, shared, err := c.GetOrClaimGet(context.Background(), fp, nil)
	if err != nil {
		t.Fatalf("GetOrClaimGet: %v", err)
	}
	if !shared {
		t.Fatalf("GetOrClaimGet should be satisfied from the reverse map the put already populated, not a fresh Backend.Get")
	}
	if got != value {
		t.Fatalf("GetOrClaimGet returned a different *string than the one GetOrClaimPut was given; the weak cache should hand back the same live object")
	}
}

func TestCacheGetOrClaimPutDedupesSameValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := newMockBackend(ctrl)
	c := New(backend, stringCodec{})

	value := new(string)
	*value = "same value"

	fp1, _, err := c.GetOrClaimPut(context.Background(), value, nil)
	if err != nil {
		t.Fatalf("first GetOrClaimPut: %v", err)
	}
	fp2, shared, err := c.GetOrClaimPut(context.Background(), value, nil)
	if err != nil {
		t.Fatalf("second GetOrClaimPut: %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("fingerprints for the same value differ: %v vs %v", fp1, fp2)
	}
	if !shared {
		t.Fatalf("second GetOrClaimPut for an already-cached value should report shared=true")
	}
	if backend.putCount() != 1 {
		t.Fatalf("expected exactly one Backend.Put across both calls, got %d", backend.putCount())
	}
}

func TestCacheGetOrClaimGetFetchesOnMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := newMockBackend(ctrl)
	c := New(backend, stringCodec{})

	raw := []byte("stored directly")
	fp := Of(raw)
	if err := backend.Put(context.Background(), fp, raw); err != nil {
		t.Fatalf("seed Put: %v", err)
	}

	got, _, err := c.GetOrClaimGet(context.Background(), fp, nil)
	if err != nil {
		t.Fatalf("GetOrClaimGet: %v", err)
	}
	if *got != "stored directly" {
		t.Fatalf("GetOrClaimGet returned %q, want %q", *got, "stored directly")
	}
}

func TestCacheDistinguisherSeparatesEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := newMockBackend(ctrl)
	c := New(backend, stringCodec{})

	fp := Of([]byte("shared serialized form"))
	if err := backend.Put(context.Background(), fp, []byte("shared serialized form")); err != nil {
		t.Fatalf("seed Put: %v", err)
	}

	_, sharedA, err := c.GetOrClaimGet(context.Background(), fp, "parent-A")
	if err != nil {
		t.Fatalf("get under distinguisher A: %v", err)
	}
	_, sharedB, err := c.GetOrClaimGet(context.Background(), fp, "parent-B")
	if err != nil {
		t.Fatalf("get under distinguisher B: %v", err)
	}
	if sharedA || sharedB {
		t.Fatalf("distinct distinguishers should each miss the deser cache independently, got sharedA=%v sharedB=%v", sharedA, sharedB)
	}
}

func TestCacheShrinkIsSafeWithLiveEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := newMockBackend(ctrl)
	c := New(backend, stringCodec{})

	value := new(string)
	*value = "ephemeral"
	if _, _, err := c.GetOrClaimPut(context.Background(), value, nil); err != nil {
		t.Fatalf("GetOrClaimPut: %v", err)
	}
	// Shrink is safe to call even when nothing has been collected yet; it
	// simply reports zero removals in that case.
	c.Shrink()
}
