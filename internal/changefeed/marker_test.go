// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package changefeed

import "testing"

func TestReadMarkerMissingReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	sha, err := ReadMarker(dir)
	if err != nil {
		t.Fatalf("ReadMarker: %v", err)
	}
	if sha != "" {
		t.Fatalf("sha = %q, want empty for a missing marker", sha)
	}
}

func TestWriteThenReadMarkerRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := WriteMarker(dir, "deadbeef\n"); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	sha, err := ReadMarker(dir)
	if err != nil {
		t.Fatalf("ReadMarker: %v", err)
	}
	if sha != "deadbeef" {
		t.Fatalf("sha = %q, want deadbeef (trimmed)", sha)
	}
}
