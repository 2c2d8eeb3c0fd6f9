package nn

import (
	"math/rand"

	"github.com/born-ml/vit/internal/tensor"
)

// MLP is the standard transformer feed-forward operator:
// Linear -> GELU -> Dropout -> Linear -> Dropout.
type MLP[B tensor.Backend] struct {
	Fc1  *Linear[B] // [channels -> hidden]
	Fc2  *Linear[B] // [hidden -> channels]
	drop *Dropout[B]
}

// NewMLP creates an MLP expanding channels to hidden and back.
func NewMLP[B tensor.Backend](channels, hidden int, bias bool, dropRate float32, rng *rand.Rand, backend B) *MLP[B] {
	return &MLP[B]{
		Fc1:  NewLinear(channels, hidden, bias, rng, backend),
		Fc2:  NewLinear(hidden, channels, bias, rng, backend),
		drop: NewDropout[B](dropRate, rng),
	}
}

// Forward applies the MLP. Input is [..., channels]; the shape is
// preserved.
func (m *MLP[B]) Forward(x *tensor.Tensor[B], training bool) *tensor.Tensor[B] {
	shape := x.Shape()
	channels := shape[len(shape)-1]
	flat := x.Reshape(x.NumElements()/channels, channels)

	flat = m.drop.Apply(m.Fc1.Forward(flat).Gelu(), training)
	flat = m.drop.Apply(m.Fc2.Forward(flat), training)

	out := shape.Clone()
	return flat.Reshape(out...)
}

// Parameters returns the parameters of both linear layers.
func (m *MLP[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, 4)
	params = append(params, m.Fc1.Parameters()...)
	params = append(params, m.Fc2.Parameters()...)
	return params
}

// SwiGLUFFN is the gated feed-forward variant: the expansion projects to
// two hidden halves, SiLU(x1) * x2 gates them, and a final projection
// returns to channels.
type SwiGLUFFN[B tensor.Backend] struct {
	W12    *Linear[B] // [channels -> 2*hidden]
	W3     *Linear[B] // [hidden -> channels]
	drop   *Dropout[B]
	hidden int
}

// NewSwiGLUFFN creates a SwiGLU feed-forward operator.
func NewSwiGLUFFN[B tensor.Backend](channels, hidden int, bias bool, dropRate float32, rng *rand.Rand, backend B) *SwiGLUFFN[B] {
	return &SwiGLUFFN[B]{
		W12:    NewLinear(channels, 2*hidden, bias, rng, backend),
		W3:     NewLinear(hidden, channels, bias, rng, backend),
		drop:   NewDropout[B](dropRate, rng),
		hidden: hidden,
	}
}

// Forward applies the gated feed-forward. Input is [..., channels]; the
// shape is preserved.
func (s *SwiGLUFFN[B]) Forward(x *tensor.Tensor[B], training bool) *tensor.Tensor[B] {
	shape := x.Shape()
	channels := shape[len(shape)-1]
	rows := x.NumElements() / channels
	flat := x.Reshape(rows, channels)

	x12 := s.W12.Forward(flat) // [rows, 2*hidden]
	x1 := x12.Narrow(1, 0, s.hidden)
	x2 := x12.Narrow(1, s.hidden, s.hidden)
	gated := x1.Silu().Mul(x2)

	out := s.drop.Apply(s.W3.Forward(gated), training)
	return out.Reshape(shape.Clone()...)
}

// Parameters returns the parameters of both projections.
func (s *SwiGLUFFN[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, 4)
	params = append(params, s.W12.Parameters()...)
	params = append(params, s.W3.Parameters()...)
	return params
}
