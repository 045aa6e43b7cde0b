// Package ndarray holds the small row-major N-dimensional array used to move
// images, coil maps, masks and k-space between the stores, the forward
// operator and the sample provider.
//
// Arrays are plain values: a Shape plus a flat Data slice. Computation is done
// in double precision (Complex, Real) and results are coerced to single
// precision (complex64, float32) right before they are handed to a trainer.
package ndarray

import (
	"fmt"
	"math/cmplx"
	"strconv"
	"strings"
)

// Elem lists the element types an Array can hold.
type Elem interface {
	~float32 | ~float64 | ~complex64 | ~complex128
}

// Shape is the list of dimensions of an Array, outermost first.
type Shape []int

// Size returns the number of elements described by the shape.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share memory with s.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Array is a dense row-major array.
type Array[T Elem] struct {
	Shape Shape
	Data  []T
}

// Complex is the double precision complex array used during simulation.
type Complex = Array[complex128]

// Real is the double precision real array used during simulation.
type Real = Array[float64]

// New allocates a zero-filled array.
func New[T Elem](shape ...int) Array[T] {
	s := Shape(shape).Clone()
	return Array[T]{Shape: s, Data: make([]T, s.Size())}
}

// Full allocates an array with every element set to v.
func Full[T Elem](v T, shape ...int) Array[T] {
	a := New[T](shape...)
	for i := range a.Data {
		a.Data[i] = v
	}
	return a
}

// Ones allocates an array of ones.
func Ones[T Elem](shape ...int) Array[T] {
	return Full[T](1, shape...)
}

// FromData wraps data with the given shape. The data slice is not copied.
func FromData[T Elem](data []T, shape ...int) (Array[T], error) {
	s := Shape(shape).Clone()
	if s.Size() != len(data) {
		return Array[T]{}, fmt.Errorf("data length %d does not match shape %v (size %d)", len(data), s, s.Size())
	}
	return Array[T]{Shape: s, Data: data}, nil
}

// IsZero reports whether the array was never allocated.
func (a Array[T]) IsZero() bool { return a.Shape == nil && a.Data == nil }

// Rank returns the number of dimensions.
func (a Array[T]) Rank() int { return len(a.Shape) }

// Len returns the size of the leading dimension, 0 for a scalar array.
func (a Array[T]) Len() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// Clone returns a deep copy.
func (a Array[T]) Clone() Array[T] {
	data := make([]T, len(a.Data))
	copy(data, a.Data)
	return Array[T]{Shape: a.Shape.Clone(), Data: data}
}

// Row returns a copy of a[i] along the leading axis.
func (a Array[T]) Row(i int) (Array[T], error) {
	if a.Rank() == 0 {
		return Array[T]{}, fmt.Errorf("cannot index a scalar array")
	}
	if i < 0 || i >= a.Shape[0] {
		return Array[T]{}, fmt.Errorf("row %d out of range [0, %d)", i, a.Shape[0])
	}
	inner := a.Shape[1:].Clone()
	stride := inner.Size()
	data := make([]T, stride)
	copy(data, a.Data[i*stride:(i+1)*stride])
	return Array[T]{Shape: inner, Data: data}, nil
}

// ExpandDims returns a view of a with a new leading dimension of size 1.
func (a Array[T]) ExpandDims() Array[T] {
	s := make(Shape, 0, len(a.Shape)+1)
	s = append(s, 1)
	s = append(s, a.Shape...)
	return Array[T]{Shape: s, Data: a.Data}
}

// Squeeze returns a view of a without its leading dimension, which must be 1.
func (a Array[T]) Squeeze() (Array[T], error) {
	if a.Rank() == 0 || a.Shape[0] != 1 {
		return Array[T]{}, &ShapeMismatchError{Op: "squeeze", Want: Shape{1}, Got: a.Shape}
	}
	return Array[T]{Shape: a.Shape[1:].Clone(), Data: a.Data}, nil
}

// Reshape returns a view of a with a new shape of the same size.
func (a Array[T]) Reshape(shape ...int) (Array[T], error) {
	s := Shape(shape).Clone()
	if s.Size() != len(a.Data) {
		return Array[T]{}, &ShapeMismatchError{Op: "reshape", Want: s, Got: a.Shape}
	}
	return Array[T]{Shape: s, Data: a.Data}, nil
}

// Stack joins equally shaped arrays along a new leading axis.
func Stack[T Elem](arrs []Array[T]) (Array[T], error) {
	if len(arrs) == 0 {
		return Array[T]{}, fmt.Errorf("nothing to stack")
	}
	inner := arrs[0].Shape
	stride := inner.Size()
	shape := append(Shape{len(arrs)}, inner...)
	data := make([]T, 0, len(arrs)*stride)
	for i, a := range arrs {
		if !a.Shape.Equal(inner) {
			return Array[T]{}, &ShapeMismatchError{Op: fmt.Sprintf("stack element %d", i), Want: inner, Got: a.Shape}
		}
		data = append(data, a.Data...)
	}
	return Array[T]{Shape: shape, Data: data}, nil
}

// ToComplex64 coerces a to single precision.
func ToComplex64(a Complex) Array[complex64] {
	out := Array[complex64]{Shape: a.Shape.Clone(), Data: make([]complex64, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = complex64(v)
	}
	return out
}

// ToFloat32 coerces a to single precision.
func ToFloat32(a Real) Array[float32] {
	out := Array[float32]{Shape: a.Shape.Clone(), Data: make([]float32, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = float32(v)
	}
	return out
}

// FromComplex64 widens a to double precision.
func FromComplex64(a Array[complex64]) Complex {
	out := Complex{Shape: a.Shape.Clone(), Data: make([]complex128, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = complex128(v)
	}
	return out
}

// FromFloat32 widens a to double precision.
func FromFloat32(a Array[float32]) Real {
	out := Real{Shape: a.Shape.Clone(), Data: make([]float64, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = float64(v)
	}
	return out
}

// RealToComplex promotes a real array, with a zero imaginary part.
func RealToComplex(a Real) Complex {
	out := Complex{Shape: a.Shape.Clone(), Data: make([]complex128, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = complex(v, 0)
	}
	return out
}

// RealPart drops the imaginary part of a.
func RealPart(a Complex) Real {
	out := Real{Shape: a.Shape.Clone(), Data: make([]float64, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = real(v)
	}
	return out
}

// Abs returns the element-wise magnitude of a.
func Abs(a Complex) Real {
	out := Real{Shape: a.Shape.Clone(), Data: make([]float64, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = cmplx.Abs(v)
	}
	return out
}

// Scale multiplies every element of a by s in place.
func Scale(a Complex, s complex128) {
	for i := range a.Data {
		a.Data[i] *= s
	}
}
