package loaders

type ResourceType int

/** @brief Resource types the asset manager knows how to load. */
const (
	/** @brief Unknown file, ignored by the asset manager. */
	ResourceTypeNone ResourceType = iota
	/** @brief Image decoded into a texture. */
	ResourceTypeImage
	/** @brief SPIR-V shader binary. */
	ResourceTypeShader
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeImage:
		return "image"
	case ResourceTypeShader:
		return "shader"
	default:
		return "none"
	}
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}

/** @brief Decoded texture pixels, always tightly packed RGBA8. */
type ImageResourceData struct {
	Width  uint32
	Height uint32
	Pixels []byte
}
