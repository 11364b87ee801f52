package shader

import (
	"embed"
	"fmt"
	"path"
)

//go:embed library/*.glsl library/*.vert library/*.frag
var library embed.FS

// Names of the programs shipped with the engine.
const (
	LibraryUnlit = "unlit"
	LibraryLit   = "lit"
	LibraryDepth = "depth"
)

// Feature flags understood by the library programs.
const (
	FeatureUV               = "HAS_UV"
	FeatureBaseColorTexture = "HAS_BASE_COLOR_TEXTURE"

	// FeatureAlphaMask discards fragments with alpha below u_alpha_cutoff.
	FeatureAlphaMask = "ALPHA_MASK"
)

// LibrarySource loads one of the engine's embedded programs by name.
//
// Parameters:
//   - name: LibraryUnlit, LibraryLit or LibraryDepth
//
// Returns:
//   - Source: the program's stage sources
//   - error: an error if no embedded program has that name
func LibrarySource(name string) (Source, error) {
	vs, err := library.ReadFile(path.Join("library", name+".vert"))
	if err != nil {
		return Source{}, fmt.Errorf("library program %q: %w", name, err)
	}
	fs, err := library.ReadFile(path.Join("library", name+".frag"))
	if err != nil {
		return Source{}, fmt.Errorf("library program %q: %w", name, err)
	}
	return Source{Name: name, Vertex: string(vs), Fragment: string(fs)}, nil
}

// libraryInclude returns an embedded include file, such as common.glsl.
func libraryInclude(name string) (string, bool) {
	b, err := library.ReadFile(path.Join("library", name))
	if err != nil {
		return "", false
	}
	return string(b), true
}
