// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/ridgeline-dev/ridgeline/internal/changefeed"
	"github.com/ridgeline-dev/ridgeline/internal/engine"
	"github.com/ridgeline-dev/ridgeline/internal/fingerprint"
)

// LineCountTag and TotalTag are the two demo evaluators layered on top of
// changefeed.FileTag: LineCountTag depends on one file's content,
// TotalTag depends on every file's line count.
const (
	LineCountTag engine.Tag = "linecount"
	TotalTag     engine.Tag = "total"
)

// fileValue is what the FileTag Evaluator commits: enough to let
// dependents decide whether they need to re-read the file's bytes without
// doing so themselves (I3 change pruning operates on this struct's
// equality, so a touched-but-unchanged file's Fingerprint stays the same
// and dependents are pruned).
type fileValue struct {
	Path        string
	Size        int64
	Fingerprint fingerprint.Fingerprint
}

func (f fileValue) EqualValue(prior engine.Value) bool {
	p, ok := prior.(fileValue)
	return ok && p == f
}

type lineCountValue struct {
	Path  string
	Lines int
}

func (l lineCountValue) EqualValue(prior engine.Value) bool {
	p, ok := prior.(lineCountValue)
	return ok && p == l
}

type totalValue struct {
	Files int
	Lines int
}

func (t totalValue) EqualValue(prior engine.Value) bool {
	p, ok := prior.(totalValue)
	return ok && p == t
}

// newFileEvaluator returns the changefeed.FileTag Evaluator: it reads path
// (relative to root) from disk, pushes its bytes through the fingerprint
// cache, and commits a fileValue. Registering it under changefeed.FileTag
// means keys produced by changefeed.Poll or changefeed.ToKeys drive it
// directly.
func newFileEvaluator(root string, cache *fingerprint.Cache[rawContent], log hclog.Logger) engine.EvaluatorFunc {
	return func(ctx context.Context, key *engine.Key, env *engine.Environment) (engine.Value, error) {
		path, ok := key.Arg().(string)
		if !ok {
			return nil, fmt.Errorf("file evaluator: key arg is %T, want string", key.Arg())
		}
		full := filepath.Join(root, path)
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, err
		}
		fp, _, err := cache.GetOrClaimPut(ctx, &rawContent{path: path, data: data}, path)
		if err != nil {
			return nil, fmt.Errorf("caching %s: %w", path, err)
		}
		log.Trace("file read", "path", path, "size", len(data), "fingerprint", fp)
		return fileValue{Path: path, Size: int64(len(data)), Fingerprint: fp}, nil
	}
}

// newLineCountEvaluator depends on one FileTag node, retrieves the bytes
// back out of the fingerprint cache (rather than re-reading the file),
// and counts newlines.
func newLineCountEvaluator(eng *engine.Engine, cache *fingerprint.Cache[rawContent]) engine.EvaluatorFunc {
	return func(ctx context.Context, key *engine.Key, env *engine.Environment) (engine.Value, error) {
		path, ok := key.Arg().(string)
		if !ok {
			return nil, fmt.Errorf("linecount evaluator: key arg is %T, want string", key.Arg())
		}
		fileKey := eng.Intern(changefeed.FileTag, path, false, false)
		v, done := env.GetValue(fileKey)
		if !done {
			return nil, nil
		}
		fv, ok := v.(fileValue)
		if !ok {
			return nil, fmt.Errorf("linecount evaluator: unexpected file value %T", v)
		}
		rc, _, err := cache.GetOrClaimGet(ctx, fv.Fingerprint, path)
		if err != nil {
			return nil, fmt.Errorf("reading cached content for %s: %w", path, err)
		}
		return lineCountValue{Path: path, Lines: bytes.Count(rc.data, []byte("\n"))}, nil
	}
}

// newTotalEvaluator sums every path's line count. paths is fixed at
// registration time from a directory walk; a fuller implementation would
// discover paths dynamically as part of the dependency graph itself, but
// that is orthogonal to what this demo exists to exercise.
func newTotalEvaluator(eng *engine.Engine, paths []string) engine.EvaluatorFunc {
	return func(ctx context.Context, key *engine.Key, env *engine.Environment) (engine.Value, error) {
		keys := make([]*engine.Key, 0, len(paths))
		for _, p := range paths {
			keys = append(keys, eng.Intern(LineCountTag, p, false, false))
		}
		values, allDone := env.GetValues(keys)
		if !allDone {
			return nil, nil
		}
		total := totalValue{Files: len(values)}
		for _, v := range values {
			lc, ok := v.(lineCountValue)
			if !ok {
				return nil, fmt.Errorf("total evaluator: unexpected line count value %T", v)
			}
			total.Lines += lc.Lines
		}
		return total, nil
	}
}
