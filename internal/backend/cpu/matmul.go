package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/vit/internal/tensor"
)

// MatMul performs 2D matrix multiplication via BLAS Sgemm:
// [M, K] @ [K, N] -> [M, N].
func (c *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %v and %v", as, bs))
	}
	if as[1] != bs[0] {
		panic(fmt.Sprintf("matmul: inner dimensions must match, got %v and %v", as, bs))
	}

	m, k, n := as[0], as[1], bs[1]
	result := c.newRaw(tensor.Shape{m, n})
	gemm(m, k, n, a.Data(), b.Data(), result.Data())
	return result
}

// BatchMatMul performs batched matrix multiplication for 3D/4D tensors:
// [B, M, K] @ [B, K, N] -> [B, M, N] and
// [B, H, M, K] @ [B, H, K, N] -> [B, H, M, N].
func (c *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	as, bs := a.Shape(), b.Shape()
	if len(as) != len(bs) || (len(as) != 3 && len(as) != 4) {
		panic(fmt.Sprintf("batchmatmul: expected matching 3D or 4D tensors, got %v and %v", as, bs))
	}

	nd := len(as)
	batch := 1
	for d := 0; d < nd-2; d++ {
		if as[d] != bs[d] {
			panic(fmt.Sprintf("batchmatmul: batch dimensions must match, got %v and %v", as, bs))
		}
		batch *= as[d]
	}

	m, k, n := as[nd-2], as[nd-1], bs[nd-1]
	if k != bs[nd-2] {
		panic(fmt.Sprintf("batchmatmul: inner dimensions must match, got %v and %v", as, bs))
	}

	outShape := as.Clone()
	outShape[nd-1] = n
	result := c.newRaw(outShape)

	ad, bd, od := a.Data(), b.Data(), result.Data()
	for i := 0; i < batch; i++ {
		gemm(m, k, n, ad[i*m*k:(i+1)*m*k], bd[i*k*n:(i+1)*k*n], od[i*m*n:(i+1)*m*n])
	}
	return result
}

// gemm computes c = a @ b for row-major float32 buffers.
func gemm(m, k, n int, a, b, out []float32) {
	am := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	bm := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	cm := blas32.General{Rows: m, Cols: n, Stride: n, Data: out}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, am, bm, 0, cm)
}
