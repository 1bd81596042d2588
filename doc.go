// Package gcsbidi implements the client-side core of two streaming
// interaction patterns layered over a single bidirectional gRPC call per
// object in a cloud object store: a multi-range downloader (package mrd)
// that multiplexes many concurrent byte-range reads over one read stream,
// and an appendable-object writer (package aow) that performs incremental,
// resumable writes against an object.
//
// Credential acquisition and channel construction are not this package's
// concern; callers supply a Transport. Generated wire-protocol message
// types are also out of scope — package wire defines plain Go structs for
// the request/response shapes this library sends and receives.
package gcsbidi
