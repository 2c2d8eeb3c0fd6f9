package nn

import (
	"github.com/born-ml/vit/internal/tensor"
)

// LayerScale is a learned per-channel rescale applied to a sub-layer's
// output before it rejoins the residual stream. Gamma starts at a small
// constant (1e-5 is typical) so a fresh block is near-identity.
type LayerScale[B tensor.Backend] struct {
	Gamma *Parameter[B] // [channels]
}

// NewLayerScale creates a LayerScale with gamma filled with initValue.
func NewLayerScale[B tensor.Backend](channels int, initValue float32, backend B) *LayerScale[B] {
	return &LayerScale[B]{
		Gamma: NewParameter("gamma", tensor.Full(tensor.Shape{channels}, initValue, backend)),
	}
}

// Forward multiplies x by gamma, broadcasting over leading dimensions.
func (l *LayerScale[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	return x.Mul(l.Gamma.Tensor())
}

// Parameters returns gamma.
func (l *LayerScale[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.Gamma}
}
