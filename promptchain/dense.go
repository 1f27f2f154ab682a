package promptchain

import "fmt"

// Dense is a plain row-major [Batch][Seq][Dim] float32 tensor. It backs
// encoders that run outside a tensor framework and the package tests.
type Dense struct {
	Batch, Seq, Dim int
	Data            []float32
}

// NewDense allocates a zeroed tensor.
func NewDense(batch, seq, dim int) *Dense {
	return &Dense{Batch: batch, Seq: seq, Dim: dim, Data: make([]float32, batch*seq*dim)}
}

// At returns the element at (b, s, d).
func (t *Dense) At(b, s, d int) float32 {
	return t.Data[(b*t.Seq+s)*t.Dim+d]
}

// Set stores v at (b, s, d).
func (t *Dense) Set(b, s, d int, v float32) {
	t.Data[(b*t.Seq+s)*t.Dim+d] = v
}

// DenseConcat concatenates *Dense tensors along the sequence axis.
type DenseConcat struct{}

func (DenseConcat) ConcatSequence(a, b Tensor) (Tensor, error) {
	x, ok := a.(*Dense)
	if !ok {
		return nil, fmt.Errorf("dense concat: left operand is %T", a)
	}
	y, ok := b.(*Dense)
	if !ok {
		return nil, fmt.Errorf("dense concat: right operand is %T", b)
	}
	if x.Batch != y.Batch || x.Dim != y.Dim {
		return nil, fmt.Errorf("dense concat: shape mismatch [%d,%d,%d] vs [%d,%d,%d]",
			x.Batch, x.Seq, x.Dim, y.Batch, y.Seq, y.Dim)
	}
	out := NewDense(x.Batch, x.Seq+y.Seq, x.Dim)
	rowX := x.Seq * x.Dim
	rowY := y.Seq * y.Dim
	for b := 0; b < x.Batch; b++ {
		dst := out.Data[b*(rowX+rowY):]
		copy(dst, x.Data[b*rowX:(b+1)*rowX])
		copy(dst[rowX:], y.Data[b*rowY:(b+1)*rowY])
	}
	return out, nil
}
