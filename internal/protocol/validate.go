package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned by ValidateInput.
var ErrInvalidInput = errors.New("invalid input message")

// ValidateInput checks the structural invariants of an input message: axes in
// [-1, 1], triggers in [0, 1] and hats as (x, y) pairs in {-1, 0, 1}. One bad
// value rejects the whole message.
func ValidateInput(in *Input) error {
	if in == nil {
		return fmt.Errorf("%w: nil", ErrInvalidInput)
	}
	for i, a := range in.Axes {
		if !(a >= -1 && a <= 1) {
			return fmt.Errorf("%w: axis %d out of range: %v", ErrInvalidInput, i, a)
		}
	}
	for i, t := range in.Triggers {
		if !(t >= 0 && t <= 1) {
			return fmt.Errorf("%w: trigger %d out of range: %v", ErrInvalidInput, i, t)
		}
	}
	for i, h := range in.Hats {
		if len(h) != 2 {
			return fmt.Errorf("%w: hat %d has %d components", ErrInvalidInput, i, len(h))
		}
		for _, v := range h {
			if v < -1 || v > 1 {
				return fmt.Errorf("%w: hat %d out of range: %v", ErrInvalidInput, i, h)
			}
		}
	}
	return nil
}
