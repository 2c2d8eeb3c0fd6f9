package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/vit/internal/tensor"
)

// Linear is a fully connected layer: y = x @ W (+ b).
//
// Weight has shape [in_features, out_features] and is Xavier-initialized
// from the provided random source; bias, when enabled, starts at zero.
type Linear[B tensor.Backend] struct {
	Weight  *Parameter[B]
	Bias    *Parameter[B] // nil when the layer carries no bias
	backend B
}

// NewLinear creates a new linear layer.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, rng *rand.Rand, backend B) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("Linear: features must be positive, got %d and %d", inFeatures, outFeatures))
	}

	weight := tensor.Zeros(tensor.Shape{inFeatures, outFeatures}, backend)
	limit := float32(math.Sqrt(6 / float64(inFeatures+outFeatures)))
	data := weight.Data()
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * limit
	}

	l := &Linear[B]{Weight: NewParameter("weight", weight), backend: backend}
	if bias {
		l.Bias = NewParameter("bias", tensor.Zeros(tensor.Shape{outFeatures}, backend))
	}
	return l
}

// Forward computes the layer output for x of shape [n, in_features].
func (l *Linear[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	out := x.MatMul(l.Weight.Tensor())
	if l.Bias != nil {
		out = out.Add(l.Bias.Tensor())
	}
	return out
}

// Parameters returns the layer's learned tensors.
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.Bias == nil {
		return []*Parameter[B]{l.Weight}
	}
	return []*Parameter[B]{l.Weight, l.Bias}
}
