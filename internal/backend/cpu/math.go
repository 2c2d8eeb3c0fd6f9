package cpu

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/born-ml/vit/internal/tensor"
)

// MulScalar multiplies every element by a scalar.
func (c *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	result := c.newRaw(x.Shape())
	out, in := result.Data(), x.Data()
	for i := range in {
		out[i] = in[i] * scalar
	}
	return result
}

// AddScalar adds a scalar to every element.
func (c *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	result := c.newRaw(x.Shape())
	out, in := result.Data(), x.Data()
	for i := range in {
		out[i] = in[i] + scalar
	}
	return result
}

// Rsqrt computes the element-wise reciprocal square root.
func (c *CPUBackend) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	result := c.newRaw(x.Shape())
	out, in := result.Data(), x.Data()
	for i := range in {
		out[i] = 1 / math32.Sqrt(in[i])
	}
	return result
}

// Gelu applies the exact GELU activation: 0.5 * x * (1 + erf(x / sqrt(2))).
func (c *CPUBackend) Gelu(x *tensor.RawTensor) *tensor.RawTensor {
	const invSqrt2 = 0.7071067811865476
	result := c.newRaw(x.Shape())
	out, in := result.Data(), x.Data()
	for i := range in {
		out[i] = 0.5 * in[i] * (1 + math32.Erf(in[i]*invSqrt2))
	}
	return result
}

// Silu applies the SiLU activation: x * sigmoid(x).
func (c *CPUBackend) Silu(x *tensor.RawTensor) *tensor.RawTensor {
	result := c.newRaw(x.Shape())
	out, in := result.Data(), x.Data()
	for i := range in {
		out[i] = in[i] / (1 + math32.Exp(-in[i]))
	}
	return result
}

// Softmax applies softmax along the last dimension.
//
// Rows that are entirely -inf (fully masked) would produce NaN; the
// block-diagonal masks used by the encoder never generate such rows because
// every token attends at least to itself.
func (c *CPUBackend) Softmax(x *tensor.RawTensor) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) == 0 {
		panic("softmax: scalar input")
	}
	rowLen := shape[len(shape)-1]
	rows := x.NumElements() / rowLen

	result := c.newRaw(shape)
	out, in := result.Data(), x.Data()

	for r := 0; r < rows; r++ {
		row := in[r*rowLen : (r+1)*rowLen]
		dst := out[r*rowLen : (r+1)*rowLen]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		sum := float32(0)
		for i, v := range row {
			e := math32.Exp(v - maxVal)
			dst[i] = e
			sum += e
		}
		for i := range dst {
			dst[i] /= sum
		}
	}
	return result
}

// MeanDim computes the mean along a dimension. Only the last dimension is
// supported, which is all the normalization layers need.
func (c *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim != len(shape)-1 {
		panic(fmt.Sprintf("meandim: only the last dimension is supported, got dim %d for shape %v", dim, shape))
	}

	rowLen := shape[dim]
	rows := x.NumElements() / rowLen

	var outShape tensor.Shape
	if keepDim {
		outShape = shape.Clone()
		outShape[dim] = 1
	} else {
		outShape = shape[:dim].Clone()
		if len(outShape) == 0 {
			outShape = tensor.Shape{1}
		}
	}

	result := c.newRaw(outShape)
	out, in := result.Data(), x.Data()
	inv := 1 / float32(rowLen)
	for r := 0; r < rows; r++ {
		sum := float32(0)
		for _, v := range in[r*rowLen : (r+1)*rowLen] {
			sum += v
		}
		out[r] = sum * inv
	}
	return result
}
