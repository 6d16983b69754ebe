// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package main

// rawContent is the pointer-identity value ridgeline's demo graph stores
// in the fingerprint.Cache: one file's bytes, plus the path they came
// from so Decode can hand them back tagged the same way.
type rawContent struct {
	path string
	data []byte
}

// rawContentCodec is the fingerprint.Codec[rawContent] for rawContent:
// Encode is the identity function on the bytes, and Decode reattaches the
// distinguisher (the file's path) that GetOrClaimGet was called with.
type rawContentCodec struct{}

func (rawContentCodec) Encode(v *rawContent) ([]byte, error) {
	return v.data, nil
}

func (rawContentCodec) Decode(data []byte, distinguisher any) (*rawContent, error) {
	path, _ := distinguisher.(string)
	return &rawContent{path: path, data: data}, nil
}
