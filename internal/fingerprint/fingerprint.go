// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is the content hash of a serialized value. Two byte slices
// with equal content always hash to the same Fingerprint, independent of
// process or machine.
type Fingerprint [sha256.Size]byte

// Of computes the Fingerprint of data.
func Of(data []byte) Fingerprint {
	return sha256.Sum256(data)
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// cacheKey is the lookup key for the deserialization map. distinguisher disambiguates
// values that would otherwise serialize identically but require different
// surrounding context to reconstruct — see §4.5's "Rationale for
// distinguishers".
type cacheKey struct {
	fp            Fingerprint
	distinguisher any
}
