package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/forge/driver"
)

// stateUsage is how a resource state is expressed in a vulkan barrier
type stateUsage struct {
	Access core1_0.AccessFlags
	Stages core1_0.PipelineStageFlags
	Layout core1_0.ImageLayout
}

const (
	readAccesses = core1_0.AccessIndirectCommandRead | core1_0.AccessIndexRead | core1_0.AccessVertexAttributeRead |
		core1_0.AccessUniformRead | core1_0.AccessShaderRead | core1_0.AccessTransferRead
	shaderStages = core1_0.PipelineStageVertexShader | core1_0.PipelineStageFragmentShader |
		core1_0.PipelineStageComputeShader
	depthStages = core1_0.PipelineStageEarlyFragmentTests | core1_0.PipelineStageLateFragmentTests
)

var stateUsages = map[driver.ResourceState]stateUsage{
	driver.ResourceStateCommon: {
		Access: core1_0.AccessMemoryRead | core1_0.AccessMemoryWrite,
		Stages: core1_0.PipelineStageAllCommands,
		Layout: core1_0.ImageLayoutGeneral,
	},
	driver.ResourceStateVertexAndConstantBuffer: {
		Access: core1_0.AccessVertexAttributeRead | core1_0.AccessUniformRead,
		Stages: core1_0.PipelineStageVertexInput | shaderStages,
		Layout: core1_0.ImageLayoutGeneral,
	},
	driver.ResourceStateIndexBuffer: {
		Access: core1_0.AccessIndexRead,
		Stages: core1_0.PipelineStageVertexInput,
		Layout: core1_0.ImageLayoutGeneral,
	},
	driver.ResourceStateRenderTarget: {
		Access: core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite,
		Stages: core1_0.PipelineStageColorAttachmentOutput,
		Layout: core1_0.ImageLayoutColorAttachmentOptimal,
	},
	driver.ResourceStateUnorderedAccess: {
		Access: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
		Stages: core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader,
		Layout: core1_0.ImageLayoutGeneral,
	},
	driver.ResourceStateDepthWrite: {
		Access: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
		Stages: depthStages,
		Layout: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	},
	driver.ResourceStateDepthRead: {
		Access: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessShaderRead,
		Stages: depthStages | core1_0.PipelineStageFragmentShader,
		Layout: core1_0.ImageLayoutDepthStencilReadOnlyOptimal,
	},
	driver.ResourceStateNonPixelShaderResource: {
		Access: core1_0.AccessShaderRead,
		Stages: core1_0.PipelineStageVertexShader | core1_0.PipelineStageComputeShader,
		Layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	},
	driver.ResourceStatePixelShaderResource: {
		Access: core1_0.AccessShaderRead,
		Stages: core1_0.PipelineStageFragmentShader,
		Layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	},
	driver.ResourceStateShaderResource: {
		Access: core1_0.AccessShaderRead,
		Stages: shaderStages,
		Layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	},
	driver.ResourceStateIndirectArgument: {
		Access: core1_0.AccessIndirectCommandRead,
		Stages: core1_0.PipelineStageDrawIndirect,
		Layout: core1_0.ImageLayoutGeneral,
	},
	driver.ResourceStateCopyDest: {
		Access: core1_0.AccessTransferWrite,
		Stages: core1_0.PipelineStageTransfer,
		Layout: core1_0.ImageLayoutTransferDstOptimal,
	},
	driver.ResourceStateCopySource: {
		Access: core1_0.AccessTransferRead,
		Stages: core1_0.PipelineStageTransfer,
		Layout: core1_0.ImageLayoutTransferSrcOptimal,
	},
	driver.ResourceStateResolveDest: {
		Access: core1_0.AccessTransferWrite,
		Stages: core1_0.PipelineStageTransfer,
		Layout: core1_0.ImageLayoutTransferDstOptimal,
	},
	driver.ResourceStateResolveSource: {
		Access: core1_0.AccessTransferRead,
		Stages: core1_0.PipelineStageTransfer,
		Layout: core1_0.ImageLayoutTransferSrcOptimal,
	},
	driver.ResourceStateGenericRead: {
		Access: readAccesses,
		Stages: core1_0.PipelineStageAllCommands,
		Layout: core1_0.ImageLayoutGeneral,
	},
	driver.ResourceStatePresent: {
		Access: core1_0.AccessMemoryRead,
		Stages: core1_0.PipelineStageBottomOfPipe,
		Layout: khr_swapchain.ImageLayoutPresentSrc,
	},
}

// queueStages are the pipeline stages a queue of each command list type supports
var queueStages = [driver.CommandListTypeCount]core1_0.PipelineStageFlags{
	driver.CommandListDirect: ^core1_0.PipelineStageFlags(0),
	driver.CommandListCompute: core1_0.PipelineStageComputeShader | core1_0.PipelineStageDrawIndirect |
		core1_0.PipelineStageTransfer | core1_0.PipelineStageTopOfPipe | core1_0.PipelineStageBottomOfPipe |
		core1_0.PipelineStageAllCommands,
	driver.CommandListCopy: core1_0.PipelineStageTransfer | core1_0.PipelineStageTopOfPipe |
		core1_0.PipelineStageBottomOfPipe | core1_0.PipelineStageAllCommands,
}

// usageForState returns the barrier parameters of state as seen from a queue of listType
func usageForState(state driver.ResourceState, listType driver.CommandListType) stateUsage {
	usage, ok := stateUsages[state]
	if !ok {
		panic("no vulkan usage for resource state " + state.String())
	}

	usage.Stages &= queueStages[listType]
	if usage.Stages == 0 {
		usage.Stages = core1_0.PipelineStageAllCommands
	}
	return usage
}
