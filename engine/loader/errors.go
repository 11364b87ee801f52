package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is the result of a ticket cancelled before its import was committed.
	ErrCancelled = errors.New("import cancelled")

	// ErrQueueClosed is returned by Submit after the async importer was closed.
	ErrQueueClosed = errors.New("import queue closed")

	// ErrQueueFull is returned by Submit while as many tickets as the queue holds are
	// outstanding. Draining settles tickets and makes room.
	ErrQueueFull = errors.New("import queue full")
)

var (
	errInvalidGLTFVersion = errors.New("invalid glTF version: must be 2.0")
	errInvalidGLBMagic    = errors.New("invalid GLB magic number")
	errInvalidGLBVersion  = errors.New("invalid GLB version: must be 2")
	errMissingJSONChunk   = errors.New("GLB file missing JSON chunk")
	errInvalidBufferURI   = errors.New("invalid buffer URI")
	errBufferSizeMismatch = errors.New("buffer size mismatch")
)

// MalformedAssetError reports a glTF document that violates the schema or references data
// that does not exist. Where locates the offending element, as in "meshes[2].primitives[0]".
type MalformedAssetError struct {
	Asset  string
	Where  string
	Reason string
	Err    error
}

func (e *MalformedAssetError) Error() string {
	msg := "malformed asset"
	if e.Asset != "" {
		msg += " " + e.Asset
	}
	if e.Where != "" {
		msg += " at " + e.Where
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedAssetError) Unwrap() error {
	return e.Err
}

// malformed builds a MalformedAssetError without an asset name; Decode fills it in.
func malformed(where string, format string, args ...any) *MalformedAssetError {
	return &MalformedAssetError{Where: where, Reason: fmt.Sprintf(format, args...)}
}

// malformedErr is malformed with a wrapped cause.
func malformedErr(where string, err error, format string, args ...any) *MalformedAssetError {
	e := malformed(where, format, args...)
	e.Err = err
	return e
}
