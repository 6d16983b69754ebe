// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bgentry/speakeasy"
	"github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/mitchellh/cli"
	"github.com/posener/complete"

	"github.com/ridgeline-dev/ridgeline/internal/changefeed"
	"github.com/ridgeline-dev/ridgeline/internal/engine"
	"github.com/ridgeline-dev/ridgeline/internal/fingerprint"
	"github.com/ridgeline-dev/ridgeline/internal/tracing"
)

// meta is the state every subcommand shares: the UI to write to and the
// hclog.Logger backing structured diagnostics, matching this codebase's
// convention of a small shared Meta struct embedded by each Command.
type meta struct {
	ui  cli.Ui
	log hclog.Logger
}

func newMeta(ui cli.Ui, logLevel string) meta {
	return meta{
		ui: ui,
		log: hclog.New(&hclog.LoggerOptions{
			Name:  "ridgeline",
			Level: hclog.LevelFromString(logLevel),
		}),
	}
}

// buildEngine constructs the Engine and fingerprint.Cache shared by eval
// and watch, wiring the requested Backend and worker count.
func (m meta) buildEngine(workers int, backend fingerprint.Backend) (*engine.Engine, *fingerprint.Cache[rawContent]) {
	cache := fingerprint.New(backend, rawContentCodec{})
	eng := engine.New(
		engine.WithLogger(m.log.Named("engine")),
		engine.WithListener(tracing.NewEngineListener()),
		engine.WithWorkers(workers),
	)
	return eng, cache
}

// listMatchingFiles walks root collecting paths (relative to root) whose
// extension is in exts, the same convention changefeed.GitSource uses for
// its own initial "everything is new" listing.
func listMatchingFiles(root string, exts []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		for _, ext := range exts {
			if strings.HasSuffix(path, ext) {
				rel, relErr := filepath.Rel(root, path)
				if relErr == nil {
					files = append(files, rel)
				}
				break
			}
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// EvalCommand walks a directory once, evaluates its line-count/total
// graph, and prints the result.
type EvalCommand struct {
	meta
}

func (c *EvalCommand) Help() string {
	return "Usage: ridgeline eval [-workers N] [-ext .go] DIR\n\n" +
		"  Evaluates the line-count graph for every matching file under DIR."
}

func (c *EvalCommand) Synopsis() string { return "Evaluate the demo file-line-count graph once" }

func (c *EvalCommand) AutocompleteArgs() complete.Predictor { return complete.PredictDirs("*") }

func (c *EvalCommand) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-workers": complete.PredictAnything,
		"-ext":     complete.PredictAnything,
	}
}

func (c *EvalCommand) Run(args []string) int {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	workers := fs.Int("workers", 8, "maximum concurrent Evaluator Functions")
	ext := fs.String("ext", ".go", "comma-separated file extensions to include")
	cacheDir := fs.String("cache", "", "fingerprint cache directory (default: DIR/.ridgeline_cache)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.ui.Error(c.Help())
		return 1
	}
	root := fs.Arg(0)
	exts := strings.Split(*ext, ",")

	invocationID, err := uuid.GenerateUUID()
	if err != nil {
		c.ui.Error(fmt.Sprintf("generating invocation id: %v", err))
		return 1
	}
	c.ui.Info(banner(invocationID))

	dir := *cacheDir
	if dir == "" {
		dir = filepath.Join(root, ".ridgeline_cache")
	}
	backend, err := newDiskBackend(dir)
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}

	files, err := listMatchingFiles(root, exts)
	if err != nil {
		c.ui.Error(fmt.Sprintf("walking %s: %v", root, err))
		return 1
	}
	if len(files) == 0 {
		c.ui.Warn("no matching files found")
		return 0
	}

	eng, cache := c.buildEngine(*workers, backend)
	eng.Register(changefeed.FileTag, newFileEvaluator(root, cache, c.log))
	eng.Register(LineCountTag, newLineCountEvaluator(eng, cache))
	eng.Register(TotalTag, newTotalEvaluator(eng, files))

	totalKey := eng.Intern(TotalTag, root, false, false)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := eng.Evaluate(ctx, []*engine.Key{totalKey}, true)
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	if result.HasErrors() {
		c.ui.Error(result.Err().Error())
		return 1
	}

	total, _ := result.Values[totalKey].(totalValue)
	c.ui.Output(fmt.Sprintf("%d files, %d lines", total.Files, total.Lines))
	eng.Idle(ctx)
	return 0
}

// WatchCommand keeps a directory's graph up to date, alternating between
// a git-diff poll (changefeed.Poll) and a live filesystem watch
// (changefeed.Watcher), re-evaluating the graph after every batch of
// invalidations until interrupted.
type WatchCommand struct {
	meta
}

func (c *WatchCommand) Help() string {
	return "Usage: ridgeline watch [-workers N] [-ext .go] [-remote URL] DIR\n\n" +
		"  Watches DIR for changes and incrementally re-evaluates the demo graph."
}

func (c *WatchCommand) Synopsis() string { return "Watch a directory and evaluate incrementally" }

func (c *WatchCommand) Run(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	workers := fs.Int("workers", 8, "maximum concurrent Evaluator Functions")
	ext := fs.String("ext", ".go", "comma-separated file extensions to include")
	remoteURL := fs.String("remote", "", "remote fingerprint backend base URL (default: local disk cache)")
	remoteToken := fs.String("remote-token", "", "bearer token for -remote (prompted if omitted and -remote is set)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.ui.Error(c.Help())
		return 1
	}
	root := fs.Arg(0)
	exts := strings.Split(*ext, ",")

	var backend fingerprint.Backend
	if *remoteURL != "" {
		token := *remoteToken
		if token == "" {
			var err error
			token, err = speakeasy.Ask("Remote backend token: ")
			if err != nil {
				c.ui.Error(fmt.Sprintf("reading token: %v", err))
				return 1
			}
		}
		backend = newRemoteBackend(*remoteURL, token)
	} else {
		diskBackend, err := newDiskBackend(filepath.Join(root, ".ridgeline_cache"))
		if err != nil {
			c.ui.Error(err.Error())
			return 1
		}
		backend = diskBackend
	}

	files, err := listMatchingFiles(root, exts)
	if err != nil {
		c.ui.Error(fmt.Sprintf("walking %s: %v", root, err))
		return 1
	}

	eng, cache := c.buildEngine(*workers, backend)
	eng.Register(changefeed.FileTag, newFileEvaluator(root, cache, c.log))
	eng.Register(LineCountTag, newLineCountEvaluator(eng, cache))
	eng.Register(TotalTag, newTotalEvaluator(eng, files))
	totalKey := eng.Intern(TotalTag, root, false, false)

	src := changefeed.NewGitSource(exts...)
	src.Log = c.log.Named("changefeed")

	watcher, err := changefeed.NewWatcher(root, exts, c.log.Named("watch"))
	if err != nil {
		c.ui.Warn(fmt.Sprintf("live filesystem watch unavailable, falling back to polling only: %v", err))
	} else {
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evalOnce := func() {
		result, err := eng.Evaluate(ctx, []*engine.Key{totalKey}, true)
		if err != nil {
			c.ui.Error(err.Error())
			return
		}
		if result.HasErrors() {
			c.ui.Error(result.Err().Error())
			return
		}
		total, _ := result.Values[totalKey].(totalValue)
		c.ui.Output(fmt.Sprintf("%d files, %d lines", total.Files, total.Lines))
		eng.Idle(ctx)
	}

	evalOnce()

	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	var changesCh <-chan string
	if watcher != nil {
		changesCh = watcher.Changes
	}

	for {
		select {
		case <-ctx.Done():
			return 0
		case path := <-changesCh:
			eng.Invalidate(changefeed.ToKeys(eng, []string{path}))
			evalOnce()
		case <-poll.C:
			keys, newSHA, err := changefeed.Poll(eng, src, root)
			if err != nil {
				c.log.Debug("poll failed", "error", err)
				continue
			}
			if len(keys) == 0 {
				continue
			}
			eng.Invalidate(keys)
			if err := changefeed.WriteMarker(root, newSHA); err != nil {
				c.log.Warn("writing marker failed", "error", err)
			}
			evalOnce()
		}
	}
}

// IdleCommand runs the Engine's idle-period maintenance against a fresh
// Engine, mainly useful as a smoke test that the GC and Interner.Shrink
// pass runs cleanly.
type IdleCommand struct {
	meta
}

func (c *IdleCommand) Help() string     { return "Usage: ridgeline idle\n\n  Runs one idle-period maintenance pass." }
func (c *IdleCommand) Synopsis() string { return "Run one idle-period GC/shrink pass" }

func (c *IdleCommand) Run(args []string) int {
	eng := engine.New(engine.WithLogger(c.log))
	eng.Idle(context.Background())
	c.ui.Output("idle maintenance complete")
	return 0
}
