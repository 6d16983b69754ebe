// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

// Package fingerprint implements the bidirectional cache between
// serialized-content fingerprints and the live values they represent
// (SPEC_FULL §4.5). It deduplicates concurrent writers of the same value
// and concurrent readers of the same fingerprint, so that an evaluator
// re-run that re-derives a value already in flight elsewhere reuses that
// work instead of repeating it.
package fingerprint
