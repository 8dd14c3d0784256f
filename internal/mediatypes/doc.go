// Package mediatypes provides shared type definitions for the two
// compression pipelines.
//
// This package exists as a dependency-free foundation that can be imported
// by other packages without creating import cycles. It contains primitive
// types, constants, and pure utility functions.
//
// # Formats
//
// Format names an output image format. Only the exact lowercase names
// jpeg, png, webp and avif are recognised:
//
//	f, ok := mediatypes.ParseFormat("webp")
//	f.ContentType() // "image/webp"
//	f.Extension()   // "webp" ("jpg" for jpeg)
//
// # Kinds
//
// Kind separates in-memory image jobs from file-backed video jobs. The CLI
// uses KindForName to pick a pipeline from a local file name.
package mediatypes
