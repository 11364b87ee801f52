package loader

import (
	"io"
	"path/filepath"
	"strings"
)

// loaderBackend decodes one asset format into an ImportResult. Implementations are pure:
// they never touch the GPU or the resource manager.
type loaderBackend interface {
	// Decode performs a full import of the file at path.
	//
	// Parameters:
	//   - path: the file path to load
	//
	// Returns:
	//   - *ImportResult: the decoded asset
	//   - error: error if loading fails
	Decode(path string) (*ImportResult, error)

	// DecodeReader imports an asset from a reader stream.
	//
	// Parameters:
	//   - name: the name the result carries
	//   - r: the reader providing asset data
	//   - binary: true for the binary container of the format (GLB)
	//
	// Returns:
	//   - *ImportResult: the decoded asset
	//   - error: error if loading fails
	DecodeReader(name string, r io.Reader, binary bool) (*ImportResult, error)

	// Handles reports whether the backend reads files with the given extension.
	Handles(ext string) bool
}

// backendFor returns the first backend that handles path's extension.
func backendFor(backends []loaderBackend, path string) (loaderBackend, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, b := range backends {
		if b.Handles(ext) {
			return b, true
		}
	}
	return nil, false
}
