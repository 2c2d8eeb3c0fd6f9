package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/born-ml/vit/internal/backend/cpu"
	"github.com/born-ml/vit/internal/packing"
	"github.com/born-ml/vit/internal/tensor"
)

func TestSampleSubsetSizeAndScale(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	cases := []struct {
		n        int
		ratio    float32
		wantSize int
	}{
		{1, 0, 1},
		{1, 0.9, 1},
		{4, 0, 4},
		{4, 0.5, 2},
		{4, 0.9, 1},
		{10, 0.3, 7},
		{10, 0.25, 8}, // round(7.5) = 8 (rounds half away from zero)
		{7, 0.5, 4},   // round(3.5) = 4
		{100, 0.99, 1},
	}

	for _, tc := range cases {
		indices, scale := SampleSubset(rng, tc.n, tc.ratio)
		if len(indices) != tc.wantSize {
			t.Errorf("n=%d ratio=%g: subset size = %d, want %d", tc.n, tc.ratio, len(indices), tc.wantSize)
		}
		wantScale := float32(tc.n) / float32(tc.wantSize)
		if scale != wantScale {
			t.Errorf("n=%d ratio=%g: scale = %g, want %g", tc.n, tc.ratio, scale, wantScale)
		}

		seen := make(map[int]bool, len(indices))
		for _, idx := range indices {
			if idx < 0 || idx >= tc.n {
				t.Errorf("n=%d ratio=%g: index %d out of range", tc.n, tc.ratio, idx)
			}
			if seen[idx] {
				t.Errorf("n=%d ratio=%g: duplicate index %d", tc.n, tc.ratio, idx)
			}
			seen[idx] = true
		}
	}
}

func TestSampleSubsetZeroRatioCoversBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	indices, scale := SampleSubset(rng, 8, 0)
	if len(indices) != 8 {
		t.Fatalf("subset size = %d, want 8", len(indices))
	}
	if scale != 1 {
		t.Fatalf("scale = %g, want 1", scale)
	}
}

func TestDropAddResidualZeroRatioMatchesDense(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(3))

	x := tensor.Randn(tensor.Shape{4, 6, 8}, rng, backend)
	double := func(v *tensor.Tensor[*cpu.CPUBackend]) *tensor.Tensor[*cpu.CPUBackend] {
		return v.MulScalar(2)
	}

	got := DropAddResidual(x, double, 0, rng)
	want := x.Add(double(x))

	if !got.Shape().Equal(want.Shape()) {
		t.Fatalf("shape = %v, want %v", got.Shape(), want.Shape())
	}
	for i, v := range got.Data() {
		if v != want.Data()[i] {
			t.Fatalf("element %d: got %g, want %g", i, v, want.Data()[i])
		}
	}
}

func TestDropAddResidualHalfRatioScenario(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(4))

	// Batch of 4 entries, each [10, 16].
	x := tensor.Randn(tensor.Shape{4, 10, 16}, rng, backend)
	ones := func(v *tensor.Tensor[*cpu.CPUBackend]) *tensor.Tensor[*cpu.CPUBackend] {
		return tensor.Ones(v.Shape(), backend)
	}

	out := DropAddResidual(x, ones, 0.5, rng)
	if !out.Shape().Equal(x.Shape()) {
		t.Fatalf("shape = %v, want %v", out.Shape(), x.Shape())
	}

	// Subset size = max(round(4*0.5), 1) = 2, scale = 2. Exactly two
	// entries receive x + 2.0, the other two must be bit-identical.
	rowSize := 10 * 16
	changed := 0
	for b := 0; b < 4; b++ {
		inRow := x.Data()[b*rowSize : (b+1)*rowSize]
		outRow := out.Data()[b*rowSize : (b+1)*rowSize]

		identical := true
		for i := range inRow {
			if inRow[i] != outRow[i] {
				identical = false
				break
			}
		}
		if identical {
			continue
		}
		changed++
		for i := range inRow {
			if outRow[i] != inRow[i]+2 {
				t.Fatalf("entry %d element %d: got %g, want %g", b, i, outRow[i], inRow[i]+2)
			}
		}
	}
	if changed != 2 {
		t.Fatalf("changed entries = %d, want 2", changed)
	}
}

func TestDropAddResidualNestedShapes(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(5))
	packer := packing.NewPacker(packing.NewMaskCache[*cpu.CPUBackend](0, backend), nil)

	lens := []int{5, 9, 3}
	const channels = 8
	seqs := make([]*tensor.Tensor[*cpu.CPUBackend], len(lens))
	for i, l := range lens {
		seqs[i] = tensor.Randn(tensor.Shape{l, channels}, rng, backend)
	}

	double := func(packed *tensor.Tensor[*cpu.CPUBackend], _ *packing.BlockDiagonalMask[*cpu.CPUBackend]) *tensor.Tensor[*cpu.CPUBackend] {
		return packed.MulScalar(2)
	}

	out, err := DropAddResidualNested(seqs, packer, double, 0.4, rng, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(seqs) {
		t.Fatalf("got %d sequences, want %d", len(out), len(seqs))
	}
	for i, l := range lens {
		want := tensor.Shape{l, channels}
		if !out[i].Shape().Equal(want) {
			t.Errorf("sequence %d: shape = %v, want %v", i, out[i].Shape(), want)
		}
	}
}

func TestDropAddResidualNestedUntouchedTokens(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(6))
	packer := packing.NewPacker(packing.NewMaskCache[*cpu.CPUBackend](0, backend), nil)

	seq := tensor.Randn(tensor.Shape{10, 4}, rng, backend)
	ones := func(packed *tensor.Tensor[*cpu.CPUBackend], _ *packing.BlockDiagonalMask[*cpu.CPUBackend]) *tensor.Tensor[*cpu.CPUBackend] {
		return tensor.Ones(packed.Shape(), backend)
	}

	out, err := DropAddResidualNested([]*tensor.Tensor[*cpu.CPUBackend]{seq}, packer, ones, 0.5, rng, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Subset size = 5, scale = 2: selected tokens gain exactly 2, the
	// rest are bit-identical.
	changed := 0
	for r := 0; r < 10; r++ {
		in := seq.Data()[r*4 : (r+1)*4]
		got := out[0].Data()[r*4 : (r+1)*4]
		if got[0] == in[0] && got[1] == in[1] && got[2] == in[2] && got[3] == in[3] {
			continue
		}
		changed++
		for i := range in {
			if got[i] != in[i]+2 {
				t.Fatalf("token %d element %d: got %g, want %g", r, i, got[i], in[i]+2)
			}
		}
	}
	if changed != 5 {
		t.Fatalf("changed tokens = %d, want 5", changed)
	}
}

// The residual scale can either be folded into the scatter (alpha) or
// applied to the gamma-rescaled residual before a plain add. Both paths
// must agree numerically.
func TestNestedGammaFoldEquivalence(t *testing.T) {
	backend := cpu.New()

	seqRng := rand.New(rand.NewSource(7))
	lens := []int{6, 4}
	const channels = 8
	seqs := make([]*tensor.Tensor[*cpu.CPUBackend], len(lens))
	for i, l := range lens {
		seqs[i] = tensor.Randn(tensor.Shape{l, channels}, seqRng, backend)
	}

	gammaData := make([]float32, channels)
	for i := range gammaData {
		gammaData[i] = 0.1 * float32(i+1)
	}
	gamma, err := tensor.FromSlice(gammaData, tensor.Shape{channels}, backend)
	if err != nil {
		t.Fatal(err)
	}

	triple := func(packed *tensor.Tensor[*cpu.CPUBackend], _ *packing.BlockDiagonalMask[*cpu.CPUBackend]) *tensor.Tensor[*cpu.CPUBackend] {
		return packed.MulScalar(3)
	}
	packer := packing.NewPacker(packing.NewMaskCache[*cpu.CPUBackend](0, backend), nil)

	// Path A: gamma folded into the alpha-scaled scatter.
	folded, err := DropAddResidualNested(seqs, packer, triple, 0.5, rand.New(rand.NewSource(99)), gamma)
	if err != nil {
		t.Fatal(err)
	}

	// Path B: same subsets (same seed), gamma and scale applied to the
	// residual, then added at alpha 1.
	rng := rand.New(rand.NewSource(99))
	indices := make([][]int, len(seqs))
	scales := make([]float32, len(seqs))
	for i, s := range seqs {
		indices[i], scales[i] = SampleSubset(rng, s.Shape()[0], 0.5)
	}
	mask, packed, err := packer.PackSelected(seqs, indices)
	if err != nil {
		t.Fatal(err)
	}
	parts := packer.Unpack(triple(packed, mask), mask)
	for i, s := range seqs {
		scaled := parts[i].Mul(gamma).MulScalar(scales[i])
		want := s.IndexAdd(indices[i], scaled, 1)

		got := folded[i]
		for j, v := range got.Data() {
			if diff := math.Abs(float64(v - want.Data()[j])); diff > 1e-6 {
				t.Fatalf("sequence %d element %d: folded %g vs unfolded %g", i, j, v, want.Data()[j])
			}
		}
	}
}
