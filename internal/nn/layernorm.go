package nn

import (
	"github.com/born-ml/vit/internal/tensor"
)

// LayerNorm normalizes activations along the last dimension:
//
//	y = gamma * (x - mean(x)) / sqrt(var(x) + eps) + beta
//
// Gamma starts at ones, beta at zeros.
type LayerNorm[B tensor.Backend] struct {
	Gamma   *Parameter[B] // learnable scale [channels]
	Beta    *Parameter[B] // learnable shift [channels]
	Epsilon float32
}

// NewLayerNorm creates a LayerNorm over the given channel count.
func NewLayerNorm[B tensor.Backend](channels int, epsilon float32, backend B) *LayerNorm[B] {
	return &LayerNorm[B]{
		Gamma:   NewParameter("gamma", tensor.Ones(tensor.Shape{channels}, backend)),
		Beta:    NewParameter("beta", tensor.Zeros(tensor.Shape{channels}, backend)),
		Epsilon: epsilon,
	}
}

// Forward applies the normalization. Input shape is [..., channels] and is
// preserved.
func (l *LayerNorm[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	mean := x.MeanDim(-1, true)
	centered := x.Sub(mean)
	variance := centered.Mul(centered).MeanDim(-1, true)
	inv := variance.AddScalar(l.Epsilon).Rsqrt()
	normed := centered.Mul(inv)
	return normed.Mul(l.Gamma.Tensor()).Add(l.Beta.Tensor())
}

// Parameters returns gamma and beta.
func (l *LayerNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.Gamma, l.Beta}
}
