// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package changefeed

import "github.com/ridgeline-dev/ridgeline/internal/engine"

// FileTag is the Tag used for keys built from a changed file path.
const FileTag engine.Tag = "file"

// ToKeys interns one engine.Key per changed path, ready to pass to
// Engine.Invalidate.
func ToKeys(eng *engine.Engine, paths []string) []*engine.Key {
	keys := make([]*engine.Key, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, eng.Intern(FileTag, p, false, false))
	}
	return keys
}

// Poll reads dir's marker, asks src what changed since it, converts the
// result to Keys, and returns dir's current HEAD as newSHA. It does not
// write the marker; callers typically follow Poll with
// eng.Invalidate(keys), WriteMarker(dir, newSHA) and then Evaluate.
func Poll(eng *engine.Engine, src Source, dir string) (keys []*engine.Key, newSHA string, err error) {
	baseSHA, err := ReadMarker(dir)
	if err != nil {
		return nil, "", err
	}
	changed, err := src.Changed(dir, baseSHA)
	if err != nil {
		return nil, "", err
	}
	newSHA, err = src.CurrentSHA(dir)
	if err != nil {
		return nil, "", err
	}
	return ToKeys(eng, changed), newSHA, nil
}
