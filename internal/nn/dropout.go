package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/vit/internal/tensor"
)

// Dropout zeroes elements independently with probability Rate during
// training and scales survivors by 1/(1-Rate). Identity in evaluation or
// at rate zero.
type Dropout[B tensor.Backend] struct {
	Rate float32
	rng  *rand.Rand
}

// NewDropout creates a dropout operator drawing from rng.
func NewDropout[B tensor.Backend](rate float32, rng *rand.Rand) *Dropout[B] {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("Dropout: rate must be in [0, 1), got %g", rate))
	}
	return &Dropout[B]{Rate: rate, rng: rng}
}

// Apply returns the dropped-out tensor. The input is never modified.
func (d *Dropout[B]) Apply(x *tensor.Tensor[B], training bool) *tensor.Tensor[B] {
	if !training || d.Rate == 0 {
		return x
	}
	scale := 1 / (1 - d.Rate)
	out := x.Clone()
	data := out.Data()
	for i := range data {
		if d.rng.Float32() < d.Rate {
			data[i] = 0
		} else {
			data[i] *= scale
		}
	}
	return out
}
