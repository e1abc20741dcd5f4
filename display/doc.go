// Package display owns the back buffers of a driver swap chain. It wraps each buffer in a
// graphics.ColorBuffer, presents from the graphics queue and paces the CPU so that no more than
// MaxFramesInFlight frames are queued on the GPU.
package display
