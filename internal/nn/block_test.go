package nn

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/born-ml/vit/internal/backend/cpu"
	"github.com/born-ml/vit/internal/packing"
	"github.com/born-ml/vit/internal/tensor"
)

func testConfig(rng *rand.Rand) BlockConfig {
	return BlockConfig{
		EmbedDim: 32,
		NumHeads: 4,
		QKVBias:  true,
		ProjBias: true,
		FFNBias:  true,
		Rand:     rng,
	}
}

func newTestPacker(backend *cpu.CPUBackend) *packing.Packer[*cpu.CPUBackend] {
	return packing.NewPacker(packing.NewMaskCache[*cpu.CPUBackend](0, backend), nil)
}

func shapeEqual(a, b tensor.Shape) bool {
	return a.Equal(b)
}

func TestResidualModeFor(t *testing.T) {
	cases := []struct {
		training bool
		ratio    float32
		want     ResidualMode
	}{
		{false, 0, ModeDense},
		{false, 0.05, ModeDense},
		{false, 0.5, ModeDense},
		{true, 0, ModeDense},
		{true, 0.05, ModePathDrop},
		{true, 0.1, ModePathDrop},
		{true, 0.11, ModeStochasticSubset},
		{true, 0.5, ModeStochasticSubset},
		{true, 0.9, ModeStochasticSubset},
	}
	for _, tc := range cases {
		if got := ResidualModeFor(tc.training, tc.ratio); got != tc.want {
			t.Errorf("ResidualModeFor(%v, %g) = %v, want %v", tc.training, tc.ratio, got, tc.want)
		}
	}
}

func TestBlockForwardPreservesShape(t *testing.T) {
	backend := cpu.New()

	for _, ratio := range []float32{0, 0.05, 0.5} {
		rng := rand.New(rand.NewSource(10))
		cfg := testConfig(rng)
		cfg.PathDropRate = ratio
		block := NewBlock(cfg, backend)
		block.SetTraining(true)

		x := tensor.Randn(tensor.Shape{4, 10, 32}, rng, backend)
		out := block.Forward(x)
		if !shapeEqual(out.Shape(), x.Shape()) {
			t.Errorf("ratio %g: shape = %v, want %v", ratio, out.Shape(), x.Shape())
		}
	}
}

func TestBlockZeroRatioTrainingMatchesEval(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(11))
	block := NewBlock(testConfig(rng), backend)

	x := tensor.Randn(tensor.Shape{2, 6, 32}, rng, backend)

	block.SetTraining(true)
	trained := block.Forward(x)
	block.SetTraining(false)
	evaled := block.Forward(x)

	for i, v := range trained.Data() {
		if v != evaled.Data()[i] {
			t.Fatalf("element %d: training %g vs eval %g", i, v, evaled.Data()[i])
		}
	}
}

func TestBlockEvalIgnoresDropRatio(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(12))
	cfg := testConfig(rng)
	cfg.PathDropRate = 0.5
	block := NewBlock(cfg, backend)

	x := tensor.Randn(tensor.Shape{3, 5, 32}, rng, backend)

	first := block.Forward(x)
	second := block.Forward(x)
	for i, v := range first.Data() {
		if v != second.Data()[i] {
			t.Fatalf("eval forward is not deterministic at element %d", i)
		}
	}

	// Dropping the configured ratio must not change the eval output.
	block.Config.PathDropRate = 0
	third := block.Forward(x)
	for i, v := range first.Data() {
		if v != third.Data()[i] {
			t.Fatalf("eval output depends on drop ratio at element %d", i)
		}
	}
}

func TestBlockLayerScale(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(13))
	cfg := testConfig(rng)
	cfg.LayerScaleInit = 1e-5
	block := NewBlock(cfg, backend)

	if block.LayerScale1 == nil || block.LayerScale2 == nil {
		t.Fatal("layer scale not constructed")
	}

	// With gamma near zero both residuals nearly vanish; the block is
	// close to the identity.
	x := tensor.Randn(tensor.Shape{2, 4, 32}, rng, backend)
	out := block.Forward(x)
	for i, v := range out.Data() {
		diff := v - x.Data()[i]
		if diff > 1e-2 || diff < -1e-2 {
			t.Fatalf("element %d drifted by %g, expected near-identity", i, diff)
		}
	}
}

func TestBlockSwiGLU(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(14))
	cfg := testConfig(rng)
	cfg.UseSwiGLU = true
	block := NewBlock(cfg, backend)

	if _, ok := block.FFN.(*SwiGLUFFN[*cpu.CPUBackend]); !ok {
		t.Fatalf("FFN is %T, want *SwiGLUFFN", block.FFN)
	}

	x := tensor.Randn(tensor.Shape{2, 4, 32}, rng, backend)
	out := block.Forward(x)
	if !shapeEqual(out.Shape(), x.Shape()) {
		t.Fatalf("shape = %v, want %v", out.Shape(), x.Shape())
	}
}

func TestDenseBlockRejectsNestedInput(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(15))
	block := NewBlock(testConfig(rng), backend)

	seqs := []*tensor.Tensor[*cpu.CPUBackend]{
		tensor.Randn(tensor.Shape{5, 32}, rng, backend),
	}
	_, err := block.ForwardNested(seqs)
	if !errors.Is(err, ErrNestedUnsupported) {
		t.Fatalf("err = %v, want ErrNestedUnsupported", err)
	}
}

func TestNestedBlockForwardShapes(t *testing.T) {
	backend := cpu.New()

	for _, tc := range []struct {
		name     string
		training bool
		ratio    float32
	}{
		{"eval", false, 0},
		{"eval with ratio", false, 0.4},
		{"training dense", true, 0},
		{"training stochastic", true, 0.4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(16))
			cfg := testConfig(rng)
			cfg.PathDropRate = tc.ratio
			block := NewNestedBlock(cfg, newTestPacker(backend), backend)
			block.SetTraining(tc.training)

			lens := []int{2, 4, 6}
			seqs := make([]*tensor.Tensor[*cpu.CPUBackend], len(lens))
			for i, l := range lens {
				seqs[i] = tensor.Randn(tensor.Shape{l, 32}, rng, backend)
			}

			out, err := block.ForwardNested(seqs)
			if err != nil {
				t.Fatal(err)
			}
			if len(out) != len(seqs) {
				t.Fatalf("got %d sequences, want %d", len(out), len(seqs))
			}
			for i, l := range lens {
				want := tensor.Shape{l, 32}
				if !shapeEqual(out[i].Shape(), want) {
					t.Errorf("sequence %d: shape = %v, want %v", i, out[i].Shape(), want)
				}
			}
		})
	}
}

// Packing must not change the computation: in eval mode a nested forward
// over a single sequence equals the dense forward of that sequence.
func TestNestedBlockMatchesDenseForSingleSequence(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(17))
	block := NewNestedBlock(testConfig(rng), newTestPacker(backend), backend)

	seq := tensor.Randn(tensor.Shape{7, 32}, rng, backend)

	nested, err := block.ForwardNested([]*tensor.Tensor[*cpu.CPUBackend]{seq})
	if err != nil {
		t.Fatal(err)
	}
	dense := block.Forward(seq.Reshape(1, 7, 32))

	for i, v := range nested[0].Data() {
		diff := v - dense.Data()[i]
		if diff > 1e-5 || diff < -1e-5 {
			t.Fatalf("element %d: nested %g vs dense %g", i, v, dense.Data()[i])
		}
	}
}

func TestNestedBlockReusesCachedMask(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(18))
	packer := newTestPacker(backend)
	block := NewNestedBlock(testConfig(rng), packer, backend)

	lens := []int{3, 5}
	seqs := make([]*tensor.Tensor[*cpu.CPUBackend], len(lens))
	for i, l := range lens {
		seqs[i] = tensor.Randn(tensor.Shape{l, 32}, rng, backend)
	}

	if _, err := block.ForwardNested(seqs); err != nil {
		t.Fatal(err)
	}
	if _, err := block.ForwardNested(seqs); err != nil {
		t.Fatal(err)
	}
	if got := packer.Cache().Len(); got != 1 {
		t.Fatalf("cache holds %d signatures, want 1", got)
	}
}

func TestBlockParameters(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(19))
	cfg := testConfig(rng)
	cfg.LayerScaleInit = 1e-5
	block := NewBlock(cfg, backend)

	// norm1 (2) + qkv w/b + proj w/b (4) + ls1 (1) +
	// norm2 (2) + fc1 w/b + fc2 w/b (4) + ls2 (1)
	if got := len(block.Parameters()); got != 14 {
		t.Fatalf("parameter count = %d, want 14", got)
	}
}
