// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

// Package changefeed turns an external change (a new commit, an edited
// file) into the set of invalidated engine.Keys the Engine needs for
// Invalidate, per SPEC_FULL §6's Change contract. A Source only has to
// report which paths changed since a marker commit; ToKeys does the
// interning.
package changefeed
