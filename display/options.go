package display

const defaultMaxFramesInFlight = 2

// Options configures a Display. It is valid to leave every field blank.
type Options struct {
	// MaxFramesInFlight is how many presented frames may be executing on the GPU before Present blocks.
	// Defaults to 2.
	MaxFramesInFlight int
	// SyncInterval is passed through to the swap chain's Present. 0 presents immediately.
	SyncInterval int
}
