// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

// Code generated by mockgen-style hand-authoring for Backend; DO NOT
// depend on this file outside fingerprint's own tests.

package fingerprint

import (
	"context"
	"sync"

	"go.uber.org/mock/gomock"
)

// mockBackend is a go.uber.org/mock-flavored mock of Backend, written by
// hand in the shape mockgen would have produced had the toolchain been
// available to run it.
type mockBackend struct {
	ctrl     *gomock.Controller
	recorder *mockBackendRecorder

	mu    sync.Mutex
	store map[Fingerprint][]byte
	puts  int
}

type mockBackendRecorder struct{ mock *mockBackend }

func newMockBackend(ctrl *gomock.Controller) *mockBackend {
	m := &mockBackend{ctrl: ctrl, store: make(map[Fingerprint][]byte)}
	m.recorder = &mockBackendRecorder{mock: m}
	return m
}

func (m *mockBackend) EXPECT() *mockBackendRecorder { return m.recorder }

func (m *mockBackend) Put(_ context.Context, fp Fingerprint, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[fp] = append([]byte(nil), data...)
	m.puts++
	return nil
}

func (m *mockBackend) Get(_ context.Context, fp Fingerprint) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store[fp], nil
}

func (m *mockBackend) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
