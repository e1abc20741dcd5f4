// Package webgpu implements the driver interfaces over the wgpu hardware abstraction layer. WebGPU has
// a single queue, so the three command list types share it, and resource state transitions reduce to
// texture usage transitions: buffers are tracked by the layer itself. Upload and readback buffers are
// mapped through a CPU shadow copy that is written to or read from the GPU buffer by the queue.
//
// The backend has no swap chain; presentation goes through the vulkan backend.
package webgpu
