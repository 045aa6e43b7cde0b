package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/mcmri/ndarray"
)

// Batch stores collated samples in flat contiguous buffers, one per field,
// each shaped [Size, ...].
type Batch struct {
	Size      int
	Imgs      ndarray.Array[complex64]
	Maps      ndarray.Array[complex64]
	Masks     ndarray.Array[float32]
	LossMasks ndarray.Array[float32]
	Out       ndarray.Array[complex64]
}

// Collate stacks samples field by field. Every sample must have the same
// shapes.
func Collate(samples []*Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot collate an empty batch")
	}
	var (
		imgs, maps, out  = make([]ndarray.Array[complex64], len(samples)), make([]ndarray.Array[complex64], len(samples)), make([]ndarray.Array[complex64], len(samples))
		masks, lossMasks = make([]ndarray.Array[float32], len(samples)), make([]ndarray.Array[float32], len(samples))
	)
	for i, s := range samples {
		if s == nil {
			return nil, fmt.Errorf("sample %d is nil", i)
		}
		imgs[i], maps[i], out[i] = s.Imgs, s.Maps, s.Out
		masks[i], lossMasks[i] = s.Masks, s.LossMasks
	}

	b := &Batch{Size: len(samples)}
	var err error
	if b.Imgs, err = ndarray.Stack(imgs); err != nil {
		return nil, fmt.Errorf("failed to collate imgs: %w", err)
	}
	if b.Maps, err = ndarray.Stack(maps); err != nil {
		return nil, fmt.Errorf("failed to collate maps: %w", err)
	}
	if b.Masks, err = ndarray.Stack(masks); err != nil {
		return nil, fmt.Errorf("failed to collate masks: %w", err)
	}
	if b.LossMasks, err = ndarray.Stack(lossMasks); err != nil {
		return nil, fmt.Errorf("failed to collate loss_masks: %w", err)
	}
	if b.Out, err = ndarray.Stack(out); err != nil {
		return nil, fmt.Errorf("failed to collate out: %w", err)
	}
	return b, nil
}

// ToGomlxTensors converts the batch to gomlx tensors in FieldNames order.
// Complex fields become float32 tensors with a trailing axis of size 2
// holding the real and imaginary parts.
func (b *Batch) ToGomlxTensors() []*tensors.Tensor {
	return []*tensors.Tensor{
		complexTensor(b.Imgs),
		complexTensor(b.Maps),
		realTensor(b.Masks),
		realTensor(b.LossMasks),
		complexTensor(b.Out),
	}
}

func complexTensor(a ndarray.Array[complex64]) *tensors.Tensor {
	flat := make([]float32, 2*len(a.Data))
	for i, v := range a.Data {
		flat[2*i], flat[2*i+1] = real(v), imag(v)
	}
	dims := append([]int(a.Shape.Clone()), 2)
	return tensors.FromFlatDataAndDimensions(flat, dims...)
}

func realTensor(a ndarray.Array[float32]) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(a.Data, a.Shape...)
}
