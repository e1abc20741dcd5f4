package descriptor

import "github.com/vkngwrapper/forge/driver"

// DescriptorHandle addresses a run of descriptor slots in a heap. It carries the heap stride so that
// Offset can index into a contiguous allocation.
type DescriptorHandle struct {
	cpu    driver.CPUDescriptorHandle
	gpu    driver.GPUDescriptorHandle
	stride uint32
}

// NullHandle is a DescriptorHandle that points nowhere
var NullHandle = DescriptorHandle{
	cpu: driver.NullCPUDescriptorHandle,
	gpu: driver.NullGPUDescriptorHandle,
}

func NewDescriptorHandle(cpu driver.CPUDescriptorHandle, gpu driver.GPUDescriptorHandle, stride uint32) DescriptorHandle {
	return DescriptorHandle{cpu: cpu, gpu: gpu, stride: stride}
}

func (h DescriptorHandle) CPU() driver.CPUDescriptorHandle { return h.cpu }
func (h DescriptorHandle) GPU() driver.GPUDescriptorHandle { return h.gpu }
func (h DescriptorHandle) Stride() uint32                  { return h.stride }

func (h DescriptorHandle) IsNull() bool {
	return h.cpu.IsNull()
}

func (h DescriptorHandle) IsShaderVisible() bool {
	return !h.gpu.IsNull()
}

// Offset returns the handle of the slot n descriptors after h. n may be negative.
func (h DescriptorHandle) Offset(n int) DescriptorHandle {
	if h.IsNull() {
		return h
	}

	delta := int64(n) * int64(h.stride)
	out := DescriptorHandle{
		cpu:    h.cpu.Offset(delta),
		gpu:    h.gpu,
		stride: h.stride,
	}
	if !h.gpu.IsNull() {
		out.gpu = h.gpu.Offset(delta)
	}
	return out
}
