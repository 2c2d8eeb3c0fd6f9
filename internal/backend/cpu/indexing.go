package cpu

import (
	"fmt"

	"github.com/born-ml/vit/internal/tensor"
)

// IndexSelect gathers the rows named by indices along the leading dimension.
func (c *CPUBackend) IndexSelect(x *tensor.RawTensor, indices []int) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) == 0 {
		panic("indexselect: scalar input")
	}
	if len(indices) == 0 {
		panic("indexselect: empty index list")
	}
	rowSize := x.NumElements() / shape[0]

	outShape := shape.Clone()
	outShape[0] = len(indices)
	result := c.newRaw(outShape)
	out, in := result.Data(), x.Data()

	for i, idx := range indices {
		if idx < 0 || idx >= shape[0] {
			panic(fmt.Sprintf("indexselect: index %d out of bounds for leading dimension (size %d)", idx, shape[0]))
		}
		copy(out[i*rowSize:(i+1)*rowSize], in[idx*rowSize:(idx+1)*rowSize])
	}
	return result
}

// IndexAdd returns a copy of dst with alpha*src[i] accumulated into row
// indices[i] along the leading dimension. Rows not named by indices are
// bit-identical to dst.
func (c *CPUBackend) IndexAdd(dst *tensor.RawTensor, indices []int, src *tensor.RawTensor, alpha float32) *tensor.RawTensor {
	dShape, sShape := dst.Shape(), src.Shape()
	if len(dShape) == 0 || len(sShape) == 0 {
		panic("indexadd: scalar input")
	}
	if sShape[0] != len(indices) {
		panic(fmt.Sprintf("indexadd: %d indices for source with leading dimension %d", len(indices), sShape[0]))
	}
	rowSize := dst.NumElements() / dShape[0]
	if src.NumElements()/sShape[0] != rowSize {
		panic(fmt.Sprintf("indexadd: row size mismatch, dst %v vs src %v", dShape, sShape))
	}

	result := dst.Clone()
	out, in := result.Data(), src.Data()
	for i, idx := range indices {
		if idx < 0 || idx >= dShape[0] {
			panic(fmt.Sprintf("indexadd: index %d out of bounds for leading dimension (size %d)", idx, dShape[0]))
		}
		dstRow := out[idx*rowSize : (idx+1)*rowSize]
		srcRow := in[i*rowSize : (i+1)*rowSize]
		for j := range dstRow {
			dstRow[j] += alpha * srcRow[j]
		}
	}
	return result
}
