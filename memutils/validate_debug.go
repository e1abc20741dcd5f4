//go:build debug_forge

package memutils

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// DebugEnabled is true when the debug_forge build tag is present
const DebugEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_forge build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_forge build tag is present.
func DebugCheckPow2[T constraints.Integer](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}

// DebugAssert panics with an assertion failure built from format and args when condition is false.
// This method no-ops unless the debug_forge build tag is present.
func DebugAssert(condition bool, format string, args ...any) {
	if !condition {
		panic(errors.AssertionFailedf(format, args...))
	}
}
