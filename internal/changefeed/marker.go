// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package changefeed

import (
	"os"
	"path/filepath"
	"strings"
)

// MarkerFilename is the default name of the file that records the last
// commit ridgeline evaluated in a given working directory.
const MarkerFilename = ".ridgeline_marker"

// ReadMarker reads the last-evaluated commit SHA recorded under dir. It
// returns the empty string, not an error, when no marker exists yet: that
// is the "evaluate everything, there is no baseline" starting state.
func ReadMarker(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteMarker records sha as the last commit ridgeline evaluated under
// dir.
func WriteMarker(dir, sha string) error {
	return os.WriteFile(filepath.Join(dir, MarkerFilename), []byte(sha), 0644)
}
