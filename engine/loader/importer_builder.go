package loader

import (
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"go.uber.org/zap"
)

// ImporterBuilderOption is a functional option for configuring an Importer via NewImporter.
type ImporterBuilderOption func(*importer)

// WithLogger is an option builder that sets the importer's logger.
//
// Parameters:
//   - l: the logger, nil keeps the default
//
// Returns:
//   - ImporterBuilderOption: a function that applies the logger option to an importer
func WithLogger(l *zap.Logger) ImporterBuilderOption {
	return func(imp *importer) {
		if l != nil {
			imp.log = l
		}
	}
}

// WithBaseDir is an option builder that sets the directory external buffers and images of
// reader-decoded documents resolve against.
//
// Parameters:
//   - dir: the base directory
//
// Returns:
//   - ImporterBuilderOption: a function that applies the base directory option to an importer
func WithBaseDir(dir string) ImporterBuilderOption {
	return func(imp *importer) {
		imp.baseDir = dir
	}
}

// WithMaterialSource is an option builder that replaces the lit library program imported
// materials draw with. The program must accept the u_base_color, u_metallic, u_roughness
// and u_base_color_texture parameters, or leave them to UnboundParameter warnings.
//
// Parameters:
//   - src: the shader source
//
// Returns:
//   - ImporterBuilderOption: a function that applies the source option to an importer
func WithMaterialSource(src shader.Source) ImporterBuilderOption {
	return func(imp *importer) {
		imp.source = &src
	}
}

// WithMipmaps is an option builder that controls mip chain generation for imported
// textures. When disabled, samplers asking for mipmapped minification fall back to the
// matching base-level filter. Enabled by default.
//
// Parameters:
//   - enabled: false to upload only the base level
//
// Returns:
//   - ImporterBuilderOption: a function that applies the mipmap option to an importer
func WithMipmaps(enabled bool) ImporterBuilderOption {
	return func(imp *importer) {
		imp.noMipmaps = !enabled
	}
}
