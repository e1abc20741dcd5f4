package graphics

import (
	"github.com/vkngwrapper/core/v2/common"
)

// CreateFlags indicate specific device behaviors to activate or deactivate
type CreateFlags int32

var deviceCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	deviceCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return deviceCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that the device and the descriptor allocators, page managers
	// and context manager created from it are not synchronized internally. The consumer must guarantee
	// they are used from only one goroutine at a time.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

const (
	defaultShaderVisibleDescriptors uint32 = 4096
	defaultShaderVisibleSamplers    uint32 = 2048
)

// CreateOptions contains optional settings when creating a Device. It is valid to leave every field
// blank.
type CreateOptions struct {
	// Flags indicates specific device behaviors to activate or deactivate
	Flags CreateFlags
	// DescriptorsPerHeap is the size of each CPU-only heap created by the staging descriptor
	// allocators. Defaults to 256.
	DescriptorsPerHeap uint32
	// ShaderVisibleDescriptors is the capacity of the shader-visible CBV/SRV/UAV heap. Defaults to 4096.
	ShaderVisibleDescriptors uint32
	// DynamicDescriptors is the number of shader-visible CBV/SRV/UAV slots set aside for
	// Device.AllocateDynamicDescriptor. Defaults to a quarter of ShaderVisibleDescriptors.
	DynamicDescriptors uint32
	// ShaderVisibleSamplers is the capacity of the shader-visible sampler heap. Defaults to 2048.
	ShaderVisibleSamplers uint32
	// GPUPageSize and CPUPageSize override the page sizes of the linear allocators backing
	// CommandContext.ReserveUploadMemory. They must be powers of two.
	GPUPageSize uint64
	CPUPageSize uint64
}
