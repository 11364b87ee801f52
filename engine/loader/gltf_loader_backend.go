package loader

import (
	"io"
)

// gltfLoaderBackendImpl is the implementation of gltfLoaderBackend.
type gltfLoaderBackendImpl struct {
	importer gltfImporter
}

// gltfLoaderBackend is a loaderBackend for .gltf and .glb files. It delegates to the
// gltfImporter for parsing and extraction.
type gltfLoaderBackend interface {
	loaderBackend
}

var _ gltfLoaderBackend = &gltfLoaderBackendImpl{}

// newGLTFLoaderBackend creates a glTF backend resolving reader-relative URIs against baseDir.
func newGLTFLoaderBackend(baseDir string) gltfLoaderBackend {
	return &gltfLoaderBackendImpl{importer: newGLTFImporter(baseDir)}
}

func (b *gltfLoaderBackendImpl) Decode(path string) (*ImportResult, error) {
	return b.importer.Import(path)
}

func (b *gltfLoaderBackendImpl) DecodeReader(name string, r io.Reader, binary bool) (*ImportResult, error) {
	return b.importer.ImportReader(name, r, binary)
}

func (b *gltfLoaderBackendImpl) Handles(ext string) bool {
	return ext == ".gltf" || ext == ".glb"
}
