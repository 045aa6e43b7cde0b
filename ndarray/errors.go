package ndarray

import "fmt"

// ShapeMismatchError reports arrays whose dimensions are inconsistent with
// each other or with the configuration they are used under.
type ShapeMismatchError struct {
	// Op names the operation or dataset that found the mismatch.
	Op   string
	Want Shape
	Got  Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %v, got %v", e.Op, e.Want, e.Got)
}
