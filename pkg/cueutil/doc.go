// SPDX-License-Identifier: MPL-2.0

// Package cueutil compiles user-supplied CUE documents against an embedded
// schema definition and decodes the result into Go values.
//
//	//go:embed config_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseAndDecode[map[string]any](
//	    schema, data, "#Config",
//	    cueutil.WithFilename(path),
//	    cueutil.WithConcrete(false),
//	)
//
// Schema violations come back as *ValidationError, one FieldIssue per
// offending field, with paths in JSON notation ("files[1]").
package cueutil
