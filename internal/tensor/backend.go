package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations; the tensor
// types stay pure data.
//
// Implementations:
//   - CPU: pure Go with BLAS-backed matrix multiplication
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// Matrix operations.
	// MatMul: [M, K] @ [K, N] -> [M, N]
	// BatchMatMul: [..., M, K] @ [..., K, N] -> [..., M, N] for 3D/4D inputs.
	MatMul(a, b *RawTensor) *RawTensor
	BatchMatMul(a, b *RawTensor) *RawTensor

	// Element-wise math.
	Rsqrt(x *RawTensor) *RawTensor
	Gelu(x *RawTensor) *RawTensor
	Silu(x *RawTensor) *RawTensor

	// Softmax along the last dimension.
	Softmax(x *RawTensor) *RawTensor

	// Reductions.
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Shape and layout operations.
	Reshape(x *RawTensor, shape Shape) *RawTensor
	Transpose(x *RawTensor, axes ...int) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor
	Narrow(x *RawTensor, dim, start, length int) *RawTensor

	// Leading-dimension indexing. IndexSelect gathers the rows named by
	// indices; IndexAdd returns a copy of dst with alpha*src[i] accumulated
	// into row indices[i]. These two are the select/scatter primitives of
	// the stochastic-depth residual path.
	IndexSelect(x *RawTensor, indices []int) *RawTensor
	IndexAdd(dst *RawTensor, indices []int, src *RawTensor, alpha float32) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
