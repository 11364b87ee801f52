package loader

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-gles/common"
)

// gltfMaterialExtractorImpl is the implementation of the gltfMaterialExtractor interface.
type gltfMaterialExtractorImpl struct {
	parser gltfParser

	// textures caches decoded textures by glTF texture index so materials sharing a
	// texture share its pixels.
	textures map[int]*common.ImportedTexture
}

// gltfMaterialExtractor extracts materials from a parsed glTF document and decodes the
// images they reference.
type gltfMaterialExtractor interface {
	// ExtractMaterial extracts a single material by index, decoding its base color texture.
	//
	// Parameters:
	//   - materialIndex: the index of the material in the document
	//
	// Returns:
	//   - common.ImportedMaterial: the extracted material
	//   - error: a *MalformedAssetError if a referenced image is missing or cannot be decoded
	ExtractMaterial(materialIndex int) (common.ImportedMaterial, error)

	// ExtractAllMaterials extracts all materials from the document in order.
	//
	// Returns:
	//   - []common.ImportedMaterial: one entry per glTF material
	//   - error: the first extraction error
	ExtractAllMaterials() ([]common.ImportedMaterial, error)
}

var _ gltfMaterialExtractor = &gltfMaterialExtractorImpl{}

// newGLTFMaterialExtractor creates a new material extractor for a parsed document.
func newGLTFMaterialExtractor(parser gltfParser) gltfMaterialExtractor {
	return &gltfMaterialExtractorImpl{parser: parser, textures: make(map[int]*common.ImportedTexture)}
}

func (e *gltfMaterialExtractorImpl) ExtractMaterial(materialIndex int) (common.ImportedMaterial, error) {
	doc := e.parser.Document()
	if doc == nil {
		return common.ImportedMaterial{}, fmt.Errorf("no document loaded")
	}
	where := fmt.Sprintf("materials[%d]", materialIndex)
	if materialIndex < 0 || materialIndex >= len(doc.Materials) {
		return common.ImportedMaterial{}, malformed(where, "material out of range")
	}

	mat := &doc.Materials[materialIndex]
	result := defaultImportedMaterial(common.Coalesce(mat.Name, fmt.Sprintf("material_%d", materialIndex)))
	result.DoubleSided = mat.DoubleSided

	switch mat.AlphaMode {
	case "", "OPAQUE":
	case "MASK":
		result.AlphaMode = common.AlphaMask
		result.AlphaCutoff = common.ValueOr(mat.AlphaCutoff, result.AlphaCutoff)
		if result.AlphaCutoff < 0 {
			return common.ImportedMaterial{}, malformed(where, "negative alphaCutoff %g", result.AlphaCutoff)
		}
	case "BLEND":
		result.AlphaMode = common.AlphaBlend
	default:
		return common.ImportedMaterial{}, malformed(where, "unknown alphaMode %q", mat.AlphaMode)
	}

	if pbr := mat.PbrMetallicRoughness; pbr != nil {
		result.BaseColor = common.ValueOr(pbr.BaseColorFactor, result.BaseColor)
		result.Metallic = common.ValueOr(pbr.MetallicFactor, result.Metallic)
		result.Roughness = common.ValueOr(pbr.RoughnessFactor, result.Roughness)
		if pbr.BaseColorTexture != nil {
			tex, err := e.loadTexture(pbr.BaseColorTexture.Index, true)
			if err != nil {
				return common.ImportedMaterial{}, err
			}
			result.DiffuseTexture = tex
		}
	}
	return result, nil
}

func (e *gltfMaterialExtractorImpl) ExtractAllMaterials() ([]common.ImportedMaterial, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}

	materials := make([]common.ImportedMaterial, len(doc.Materials))
	for i := range doc.Materials {
		mat, err := e.ExtractMaterial(i)
		if err != nil {
			return nil, err
		}
		materials[i] = mat
	}
	return materials, nil
}

// defaultImportedMaterial returns the glTF default material: white, fully metallic and rough.
func defaultImportedMaterial(name string) common.ImportedMaterial {
	return common.ImportedMaterial{
		Name:        name,
		BaseColor:   [4]float32{1, 1, 1, 1},
		Metallic:    1,
		Roughness:   1,
		AlphaCutoff: common.DefaultAlphaCutoff,
	}
}

// loadTexture resolves a glTF texture index into a decoded ImportedTexture. A texture
// without a source image yields nil.
func (e *gltfMaterialExtractorImpl) loadTexture(textureIndex int, srgb bool) (*common.ImportedTexture, error) {
	if tex, ok := e.textures[textureIndex]; ok {
		return tex, nil
	}

	doc := e.parser.Document()
	where := fmt.Sprintf("textures[%d]", textureIndex)
	if textureIndex < 0 || textureIndex >= len(doc.Textures) {
		return nil, malformed(where, "texture out of range")
	}

	tex := &doc.Textures[textureIndex]
	if tex.Source == nil {
		e.textures[textureIndex] = nil
		return nil, nil
	}

	img := &doc.Images[*tex.Source]
	data, path, err := e.parser.ImageData(*tex.Source)
	if err != nil {
		return nil, err
	}

	result := &common.ImportedTexture{
		Name:     common.Coalesce(img.Name, tex.Name, fmt.Sprintf("image_%d", *tex.Source)),
		Path:     path,
		Data:     data,
		MimeType: img.MimeType,
		SRGB:     srgb,
	}
	if tex.Sampler != nil {
		settings := gltfSamplerToSettings(&doc.Samplers[*tex.Sampler])
		result.Sampler = &settings
	}

	if err := result.Decode(); err != nil {
		if errors.Is(err, common.ErrUnsupportedCodec) {
			return nil, malformedErr(fmt.Sprintf("images[%d]", *tex.Source), err, "cannot decode %s", common.Coalesce(img.MimeType, "image"))
		}
		return nil, malformedErr(fmt.Sprintf("images[%d]", *tex.Source), err, "failed to load image")
	}
	// the encoded bytes are not needed once decoded
	result.Data = nil

	e.textures[textureIndex] = result
	return result, nil
}

// gltfSamplerToSettings converts a glTF sampler to sampler settings. Absent fields keep
// the defaults.
func gltfSamplerToSettings(s *gltfSampler) common.SamplerSettings {
	result := common.DefaultSamplerSettings()

	if s.MagFilter != nil {
		switch *s.MagFilter {
		case gltfFilterNearest:
			result.MagFilter = common.FilterNearest
		case gltfFilterLinear:
			result.MagFilter = common.FilterLinear
		}
	}

	if s.MinFilter != nil {
		switch *s.MinFilter {
		case gltfFilterNearest:
			result.MinFilter = common.FilterNearest
		case gltfFilterLinear:
			result.MinFilter = common.FilterLinear
		case gltfFilterNearestMipmapNearest:
			result.MinFilter = common.FilterNearestMipmapNearest
		case gltfFilterLinearMipmapNearest:
			result.MinFilter = common.FilterLinearMipmapNearest
		case gltfFilterNearestMipmapLinear:
			result.MinFilter = common.FilterNearestMipmapLinear
		case gltfFilterLinearMipmapLinear:
			result.MinFilter = common.FilterLinearMipmapLinear
		}
	}

	if s.WrapS != nil {
		result.WrapS = gltfWrapToWrapMode(*s.WrapS)
	}
	if s.WrapT != nil {
		result.WrapT = gltfWrapToWrapMode(*s.WrapT)
	}
	return result
}

func gltfWrapToWrapMode(wrap int) common.WrapMode {
	switch wrap {
	case gltfWrapClampToEdge:
		return common.WrapClampToEdge
	case gltfWrapMirroredRepeat:
		return common.WrapMirroredRepeat
	default:
		return common.WrapRepeat
	}
}
