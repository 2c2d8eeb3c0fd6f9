package packing

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vit/internal/backend/cpu"
	"github.com/born-ml/vit/internal/tensor"
)

func makeSequences(t *testing.T, backend *cpu.CPUBackend, lens []int, channels int) []*tensor.Tensor[*cpu.CPUBackend] {
	t.Helper()
	seqs := make([]*tensor.Tensor[*cpu.CPUBackend], len(lens))
	value := float32(0)
	for i, l := range lens {
		data := make([]float32, l*channels)
		for j := range data {
			data[j] = value
			value++
		}
		seq, err := tensor.FromSlice(data, tensor.Shape{l, channels}, backend)
		require.NoError(t, err)
		seqs[i] = seq
	}
	return seqs
}

func newTestPacker(backend *cpu.CPUBackend, cat Concatenator[*cpu.CPUBackend]) *Packer[*cpu.CPUBackend] {
	return NewPacker(NewMaskCache[*cpu.CPUBackend](0, backend), cat)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	backend := cpu.New()
	packer := newTestPacker(backend, nil)

	lens := []int{5, 3, 8}
	const channels = 16
	seqs := makeSequences(t, backend, lens, channels)

	mask, packed, err := packer.Pack(seqs)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 16, channels}, packed.Shape())
	assert.Equal(t, 16, mask.TotalTokens())

	out := packer.Unpack(packed, mask)
	require.Len(t, out, 3)
	for i, l := range lens {
		assert.Equal(t, tensor.Shape{l, channels}, out[i].Shape())
		if diff := cmp.Diff(seqs[i].Data(), out[i].Data()); diff != "" {
			t.Errorf("sequence %d changed through pack/unpack (-want +got):\n%s", i, diff)
		}
	}
}

func TestPackShape(t *testing.T) {
	backend := cpu.New()
	packer := newTestPacker(backend, nil)

	seqs := makeSequences(t, backend, []int{2, 4, 6}, 8)
	mask, packed, err := packer.Pack(seqs)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 12, 8}, packed.Shape())

	out := packer.Unpack(packed, mask)
	require.Len(t, out, 3)
	assert.Equal(t, tensor.Shape{2, 8}, out[0].Shape())
	assert.Equal(t, tensor.Shape{4, 8}, out[1].Shape())
	assert.Equal(t, tensor.Shape{6, 8}, out[2].Shape())
}

func TestPackChannelMismatch(t *testing.T) {
	backend := cpu.New()
	packer := newTestPacker(backend, nil)

	a := tensor.Zeros(tensor.Shape{5, 16}, backend)
	b := tensor.Zeros(tensor.Shape{3, 8}, backend)
	_, _, err := packer.Pack([]*tensor.Tensor[*cpu.CPUBackend]{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel mismatch")
}

func TestPackRejectsNonSequenceInput(t *testing.T) {
	backend := cpu.New()
	packer := newTestPacker(backend, nil)

	bad := tensor.Zeros(tensor.Shape{2, 5, 16}, backend)
	_, _, err := packer.Pack([]*tensor.Tensor[*cpu.CPUBackend]{bad})
	require.Error(t, err)
}

func TestFusedAndFallbackAgree(t *testing.T) {
	backend := cpu.New()
	seqs := makeSequences(t, backend, []int{5, 3, 8}, 4)

	cases := []struct {
		name    string
		indices [][]int
	}{
		{"whole sequences", nil},
		{"selected rows", [][]int{{4, 0, 2}, {1}, {7, 6, 5, 0}}},
		{"mixed nil selection", [][]int{nil, {2, 0}, nil}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fused := FusedConcatenator[*cpu.CPUBackend]{}.SelectCat(seqs, tc.indices)
			fallback := FallbackConcatenator[*cpu.CPUBackend]{}.SelectCat(seqs, tc.indices)
			assert.Equal(t, fused.Shape(), fallback.Shape())
			assert.Equal(t, fused.Data(), fallback.Data())
		})
	}
}

func TestPackSelectedUsesSelectedLengths(t *testing.T) {
	backend := cpu.New()
	packer := newTestPacker(backend, nil)

	seqs := makeSequences(t, backend, []int{5, 3, 8}, 4)
	indices := [][]int{{0, 1}, {2}, {0, 3, 5}}

	mask, packed, err := packer.PackSelected(seqs, indices)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 3}, mask.SeqLens())
	assert.Equal(t, tensor.Shape{1, 6, 4}, packed.Shape())

	// Row 0 of the packed batch is row 0 of sequence 0.
	assert.Equal(t, seqs[0].Data()[:4], packed.Data()[:4])
}

func TestBlockDiagonalMaskStructure(t *testing.T) {
	backend := cpu.New()
	mask := NewBlockDiagonalMask([]int{2, 3}, backend)

	bias := mask.Bias()
	require.Equal(t, tensor.Shape{1, 1, 5, 5}, bias.Shape())

	negInf := float32(math.Inf(-1))
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			sameBlock := (r < 2 && c < 2) || (r >= 2 && c >= 2)
			got := bias.At(0, 0, r, c)
			if sameBlock {
				assert.Equal(t, float32(0), got, "row %d col %d", r, c)
			} else {
				assert.Equal(t, negInf, got, "row %d col %d", r, c)
			}
		}
	}
}
