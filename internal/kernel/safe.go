package kernel

import (
	"fmt"
)

// runSafely executes fn and converts panics into returned errors.
// It guards processor calls so one misbehaving processor cannot stop a sync pass.
func runSafely[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		var zero T
		result = zero
		err = fmt.Errorf("panic recovered: %v", recovered)
	}()

	return fn()
}
