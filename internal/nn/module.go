// Package nn implements the encoder block and its operators.
//
// The block treats its collaborators as capability interfaces: a
// normalization operator, an attention operator that accepts an optional
// block-diagonal bias, and a feed-forward operator. Default implementations
// ship alongside, but any of them can be swapped on a constructed Block.
package nn

import (
	"github.com/born-ml/vit/internal/tensor"
)

// Normalizer is the interface for normalization operators.
type Normalizer[B tensor.Backend] interface {
	Forward(x *tensor.Tensor[B]) *tensor.Tensor[B]
	Parameters() []*Parameter[B]
}

// AttentionOperator is the interface for attention operators. The bias
// argument is an optional additive attention bias ([1, 1, tokens, tokens],
// -inf for disallowed pairs) and may be nil.
type AttentionOperator[B tensor.Backend] interface {
	Forward(x, bias *tensor.Tensor[B], training bool) *tensor.Tensor[B]
	Parameters() []*Parameter[B]
}

// FeedForward is the interface for feed-forward operators.
type FeedForward[B tensor.Backend] interface {
	Forward(x *tensor.Tensor[B], training bool) *tensor.Tensor[B]
	Parameters() []*Parameter[B]
}
