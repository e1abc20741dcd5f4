package memutils

// Validatable is implemented by heaps and allocators that can check their own bookkeeping. Validate is
// expensive, so it is only reached through DebugValidate.
type Validatable interface {
	Validate() error
}
