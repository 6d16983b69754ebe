// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package changefeed

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsMatchingWrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0644); err != nil {
		t.Fatalf("seed a.go: %v", err)
	}

	w, err := NewWatcher(dir, []string{".go"}, nil)
	if err != nil {
		t.Skipf("filesystem watching not usable in this environment: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "b.go"), []byte("package a\n"), 0644); err != nil {
		t.Fatalf("write b.go: %v", err)
	}

	select {
	case rel := <-w.Changes:
		if rel != "b.go" {
			t.Fatalf("got change for %q, want b.go", rel)
		}
	case err := <-w.Errors:
		t.Fatalf("watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatcherIgnoresNonMatchingWrite(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir, []string{".go"}, nil)
	if err != nil {
		t.Skipf("filesystem watching not usable in this environment: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "readme.md"), []byte("hi\n"), 0644); err != nil {
		t.Fatalf("write readme.md: %v", err)
	}

	select {
	case rel := <-w.Changes:
		t.Fatalf("unexpected change notification for %q", rel)
	case <-time.After(200 * time.Millisecond):
	}
}
