package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/vit/internal/tensor"
)

// DropPath is the per-sample path-drop operator: during training each
// sample of the leading dimension is either kept, scaled by 1/(1-Rate) to
// keep the expected contribution unbiased, or zeroed entirely. Identity in
// evaluation or at rate zero.
type DropPath[B tensor.Backend] struct {
	Rate float32
	rng  *rand.Rand
}

// NewDropPath creates a path-drop operator drawing from rng.
func NewDropPath[B tensor.Backend](rate float32, rng *rand.Rand) *DropPath[B] {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("DropPath: rate must be in [0, 1), got %g", rate))
	}
	return &DropPath[B]{Rate: rate, rng: rng}
}

// Apply returns the tensor with whole samples dropped or rescaled. The
// input is never modified.
func (d *DropPath[B]) Apply(x *tensor.Tensor[B], training bool) *tensor.Tensor[B] {
	if !training || d.Rate == 0 {
		return x
	}
	shape := x.Shape()
	if len(shape) == 0 {
		panic("DropPath: scalar input")
	}
	samples := shape[0]
	rowSize := x.NumElements() / samples
	scale := 1 / (1 - d.Rate)

	out := x.Clone()
	data := out.Data()
	for s := 0; s < samples; s++ {
		row := data[s*rowSize : (s+1)*rowSize]
		if d.rng.Float32() < d.Rate {
			for i := range row {
				row[i] = 0
			}
		} else {
			for i := range row {
				row[i] *= scale
			}
		}
	}
	return out
}
