package cpu

import (
	"fmt"

	"github.com/born-ml/vit/internal/tensor"
)

// Reshape returns a view of x under a new shape. No data is copied.
func (c *CPUBackend) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	view, err := x.View(shape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return view
}

// Transpose permutes the tensor's dimensions. The result is contiguous.
func (c *CPUBackend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := x.Shape()
	if len(axes) != len(shape) {
		panic(fmt.Sprintf("transpose: expected %d axes for shape %v, got %d", len(shape), shape, len(axes)))
	}
	seen := make([]bool, len(axes))
	outShape := make(tensor.Shape, len(axes))
	for d, ax := range axes {
		if ax < 0 || ax >= len(shape) || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid axes %v for shape %v", axes, shape))
		}
		seen[ax] = true
		outShape[d] = shape[ax]
	}

	result := c.newRaw(outShape)
	out, in := result.Data(), x.Data()
	srcStrides := x.Strides()

	idx := make([]int, len(outShape))
	for i := range out {
		srcOff := 0
		for d, ax := range axes {
			srcOff += idx[d] * srcStrides[ax]
		}
		out[i] = in[srcOff]
		increment(idx, outShape)
	}
	return result
}

// Cat concatenates tensors along a dimension. All inputs must agree on
// every other dimension.
func (c *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: empty tensor list")
	}
	first := tensors[0].Shape()
	if dim < 0 {
		dim += len(first)
	}
	if dim < 0 || dim >= len(first) {
		panic(fmt.Sprintf("cat: dimension %d out of range for shape %v", dim, first))
	}

	catSize := 0
	for _, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) {
			panic(fmt.Sprintf("cat: rank mismatch, %v vs %v", first, s))
		}
		for d := range s {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cat: shape mismatch along dimension %d, %v vs %v", d, first, s))
			}
		}
		catSize += s[dim]
	}

	outShape := first.Clone()
	outShape[dim] = catSize
	result := c.newRaw(outShape)
	out := result.Data()

	outer := 1
	for d := 0; d < dim; d++ {
		outer *= first[d]
	}
	inner := 1
	for d := dim + 1; d < len(first); d++ {
		inner *= first[d]
	}

	outRow := catSize * inner
	offset := 0
	for _, t := range tensors {
		size := t.Shape()[dim] * inner
		in := t.Data()
		for o := 0; o < outer; o++ {
			copy(out[o*outRow+offset:o*outRow+offset+size], in[o*size:(o+1)*size])
		}
		offset += size
	}
	return result
}

// Narrow returns a copy of the slice [start, start+length) along dim.
func (c *CPUBackend) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("narrow: dimension %d out of range for shape %v", dim, shape))
	}
	if start < 0 || length <= 0 || start+length > shape[dim] {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dimension %d (size %d)",
			start, start+length, dim, shape[dim]))
	}

	outShape := shape.Clone()
	outShape[dim] = length
	result := c.newRaw(outShape)
	out, in := result.Data(), x.Data()

	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	inner := 1
	for d := dim + 1; d < len(shape); d++ {
		inner *= shape[d]
	}

	inRow := shape[dim] * inner
	outRow := length * inner
	for o := 0; o < outer; o++ {
		copy(out[o*outRow:(o+1)*outRow], in[o*inRow+start*inner:o*inRow+(start+length)*inner])
	}
	return result
}
