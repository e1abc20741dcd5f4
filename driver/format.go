package driver

// Format is a texel or view format
type Format int32

const (
	FormatUnknown Format = iota
	FormatR8Unorm
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8UnormSRGB
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8UnormSRGB
	FormatR10G10B10A2Unorm
	FormatR11G11B10Float
	FormatR16G16Float
	FormatR16G16B16A16Float
	FormatR32Float
	FormatR32Uint
	FormatR32G32B32A32Float
	FormatD16Unorm
	FormatD32Float
	FormatD24UnormS8Uint
	FormatD32FloatS8X24Uint
)

var formatMapping = make(map[Format]string)

func (f Format) String() string {
	return formatMapping[f]
}

// IsDepth reports whether the format has a depth plane
func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Float, FormatD24UnormS8Uint, FormatD32FloatS8X24Uint:
		return true
	}
	return false
}

// HasStencil reports whether the format has a stencil plane
func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32FloatS8X24Uint
}

// BytesPerPixel is the size of a single texel, or 0 for FormatUnknown
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatD16Unorm:
		return 2
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8UnormSRGB, FormatB8G8R8A8Unorm, FormatB8G8R8A8UnormSRGB,
		FormatR10G10B10A2Unorm, FormatR11G11B10Float, FormatR16G16Float, FormatR32Float, FormatR32Uint,
		FormatD32Float, FormatD24UnormS8Uint:
		return 4
	case FormatR16G16B16A16Float, FormatD32FloatS8X24Uint:
		return 8
	case FormatR32G32B32A32Float:
		return 16
	}
	return 0
}

// IsSRGB reports whether reads from the format are decoded from sRGB
func (f Format) IsSRGB() bool {
	return f == FormatR8G8B8A8UnormSRGB || f == FormatB8G8R8A8UnormSRGB
}

func init() {
	formatMapping[FormatUnknown] = "FormatUnknown"
	formatMapping[FormatR8Unorm] = "FormatR8Unorm"
	formatMapping[FormatR8G8B8A8Unorm] = "FormatR8G8B8A8Unorm"
	formatMapping[FormatR8G8B8A8UnormSRGB] = "FormatR8G8B8A8UnormSRGB"
	formatMapping[FormatB8G8R8A8Unorm] = "FormatB8G8R8A8Unorm"
	formatMapping[FormatB8G8R8A8UnormSRGB] = "FormatB8G8R8A8UnormSRGB"
	formatMapping[FormatR10G10B10A2Unorm] = "FormatR10G10B10A2Unorm"
	formatMapping[FormatR11G11B10Float] = "FormatR11G11B10Float"
	formatMapping[FormatR16G16Float] = "FormatR16G16Float"
	formatMapping[FormatR16G16B16A16Float] = "FormatR16G16B16A16Float"
	formatMapping[FormatR32Float] = "FormatR32Float"
	formatMapping[FormatR32Uint] = "FormatR32Uint"
	formatMapping[FormatR32G32B32A32Float] = "FormatR32G32B32A32Float"
	formatMapping[FormatD16Unorm] = "FormatD16Unorm"
	formatMapping[FormatD32Float] = "FormatD32Float"
	formatMapping[FormatD24UnormS8Uint] = "FormatD24UnormS8Uint"
	formatMapping[FormatD32FloatS8X24Uint] = "FormatD32FloatS8X24Uint"
}
