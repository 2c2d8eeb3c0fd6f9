// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the encoder residual block and its operators.
//
// # Overview
//
// The central type is Block: a pre-norm transformer residual block whose
// two sub-layers (attention, feed-forward) pick one of three residual
// strategies per call:
//
//   - Dense: the full residual is added to every batch entry
//     (evaluation, or drop ratio zero).
//   - StochasticSubset: only a random subset of entries is updated, with
//     the update rescaled by n/|subset| to stay unbiased in expectation
//     (training, ratio > 0.1).
//   - PathDrop: the classic per-sample Bernoulli path drop
//     (training, ratio in (0, 0.1]).
//
// # Basic usage
//
//	backend := cpu.New()
//	block := nn.NewBlock(nn.BlockConfig{
//	    EmbedDim: 384,
//	    NumHeads: 6,
//	    QKVBias:  true,
//	    ProjBias: true,
//	    FFNBias:  true,
//	}, backend)
//	out := block.Forward(x) // [batch, tokens, 384] -> same shape
//
// # Nested batches
//
// Blocks built with NewNestedBlock additionally accept an ordered list of
// variable-length [length, channels] sequences. The list is fused into a
// single dense computation under a cached block-diagonal attention mask,
// avoiding both padding waste and per-sequence operator calls:
//
//	cache := packing.NewMaskCache[*cpu.Backend](0, backend)
//	packer := packing.NewPacker(cache, nil)
//	block := nn.NewNestedBlock(config, packer, backend)
//	outs, err := block.ForwardNested(seqs)
//
// Dense-only blocks return ErrNestedUnsupported from ForwardNested; they
// never silently fall back to dense computation.
//
// # Operators
//
// The block's collaborators are interfaces (Normalizer, AttentionOperator,
// FeedForward) with default implementations (LayerNorm,
// MultiHeadAttention, MLP or SwiGLUFFN). Any exported operator field of a
// constructed Block may be replaced before first use.
package nn
