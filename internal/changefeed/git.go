// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package changefeed

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Source discovers which file paths changed between a baseline commit and
// the working tree's current HEAD.
type Source interface {
	// Changed returns paths, relative to dir, that differ between baseSHA
	// and HEAD. An empty baseSHA means "everything is new": GitSource then
	// reports every file under dir matching Extensions, tracked or not,
	// skipping hidden directories.
	Changed(dir, baseSHA string) ([]string, error)
	// CurrentSHA returns dir's current HEAD commit.
	CurrentSHA(dir string) (string, error)
}

// GitSource discovers changed files using the git CLI. It only reports
// paths whose extension is in Extensions; a nil or empty Extensions
// reports every changed path.
type GitSource struct {
	Extensions []string
	Log        hclog.Logger
}

// NewGitSource returns a GitSource restricted to the given extensions
// (each including its leading dot, e.g. ".go").
func NewGitSource(extensions ...string) *GitSource {
	return &GitSource{Extensions: extensions, Log: hclog.NewNullLogger()}
}

func (g *GitSource) logger() hclog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return hclog.NewNullLogger()
}

func (g *GitSource) Changed(dir, baseSHA string) ([]string, error) {
	if baseSHA == "" {
		g.logger().Info("no baseline marker found, treating every matching file as changed", "dir", dir)
		return g.allMatchingFiles(dir)
	}
	return g.changedSince(dir, baseSHA)
}

func (g *GitSource) allMatchingFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if g.matches(path) {
			rel, relErr := filepath.Rel(dir, path)
			if relErr == nil {
				files = append(files, rel)
			}
		}
		return nil
	})
	return files, err
}

func (g *GitSource) changedSince(dir, baseSHA string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-only", "--relative", baseSHA, "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" && g.matches(line) {
			files = append(files, line)
		}
	}
	return files, nil
}

func (g *GitSource) matches(path string) bool {
	if len(g.Extensions) == 0 {
		return true
	}
	for _, ext := range g.Extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// ContentAt returns path's content as of sha, relative to dir.
func (g *GitSource) ContentAt(dir, sha, path string) ([]byte, error) {
	cmd := exec.Command("git", "show", sha+":./"+path)
	cmd.Dir = dir
	return cmd.Output()
}

func (g *GitSource) CurrentSHA(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
