package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or the alignment helpers if the number being tested
// is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ExhaustedError is the error returned by fixed-capacity allocators when they cannot satisfy a request and
// are not permitted to grow
var ExhaustedError error = errors.New("allocator capacity exhausted")
