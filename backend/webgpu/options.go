package webgpu

import "time"

// Options configures a webgpu Device
type Options struct {
	// WaitTimeout bounds each wait on a hal fence. A CPU wait that times out logs and waits again; zero
	// uses five seconds.
	WaitTimeout time.Duration
}

const defaultWaitTimeout = 5 * time.Second
