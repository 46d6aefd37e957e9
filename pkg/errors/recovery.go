package errors

import (
	"fmt"
	"runtime/debug"
)

// Safely runs fn and converts a panic into an AppError with the given code,
// so a misbehaving stage cannot take the whole run down.
func Safely(code ErrorCode, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = New(code, fmt.Sprintf("%s panicked: %v", name, r)).
				WithSeverity(SeverityCritical).
				WithContext("stage", name).
				WithContext("panic_stack", string(debug.Stack()))
		}
	}()
	return fn()
}
