// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ridgeline-dev/ridgeline/internal/fingerprint"
)

// diskBackend is the default fingerprint.Backend: a flat directory of
// content-addressed files under dir, one per fingerprint. It never
// evicts; Cache.Shrink only ever forgets in-memory pointers, not disk
// contents, matching this being a local developer cache rather than a
// shared artifact store.
type diskBackend struct {
	dir string
}

func newDiskBackend(dir string) (*diskBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating fingerprint cache dir: %w", err)
	}
	return &diskBackend{dir: dir}, nil
}

func (b *diskBackend) path(fp fingerprint.Fingerprint) string {
	return filepath.Join(b.dir, hex.EncodeToString(fp[:]))
}

func (b *diskBackend) Put(ctx context.Context, fp fingerprint.Fingerprint, data []byte) error {
	tmp, err := os.CreateTemp(b.dir, "put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path(fp))
}

func (b *diskBackend) Get(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, error) {
	return os.ReadFile(b.path(fp))
}

// remoteBackend fronts a bearer-token-protected HTTP blob endpoint,
// exercised by the -remote flag. It exists so ridgeline has a Backend
// that models the "shared cache" case §4.5 assumes, alongside diskBackend
// for local, single-machine use.
type remoteBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

func newRemoteBackend(baseURL, token string) *remoteBackend {
	return &remoteBackend{baseURL: baseURL, token: token, client: http.DefaultClient}
}

func (b *remoteBackend) Put(ctx context.Context, fp fingerprint.Fingerprint, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.url(fp), bytes.NewReader(data))
	if err != nil {
		return err
	}
	b.authorize(req)
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("remote backend PUT %s: status %s", fp, resp.Status)
	}
	return nil
}

func (b *remoteBackend) Get(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url(fp), nil)
	if err != nil {
		return nil, err
	}
	b.authorize(req)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote backend GET %s: status %s", fp, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (b *remoteBackend) url(fp fingerprint.Fingerprint) string {
	return b.baseURL + "/" + fp.String()
}

func (b *remoteBackend) authorize(req *http.Request) {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}
