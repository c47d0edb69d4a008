package mixup

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// AdaptDims reshapes t so that it right-broadcasts against target: singleton
// dimensions are appended until t has the same rank as target. The returned
// tensor is a reshaped copy; t itself is never modified.
//
// AdaptDims is how a per-sample weight vector of length B is lined up for
// elementwise multiplication with a (B, ...) activation or loss tensor,
// whatever its rank.
func AdaptDims(t, target *tensor.Dense) (*tensor.Dense, error) {
	if t == nil {
		return nil, NilArgError{"tensor"}
	} else if target == nil {
		return nil, NilArgError{"target tensor"}
	}

	if target.Dims() < 1 {
		return nil, errors.Errorf("target tensor must have rank >= 1 (%d)", target.Dims())
	} else if t.Dims() > target.Dims() {
		return nil, errors.Errorf("cannot adapt rank %d tensor to lower rank %d", t.Dims(), target.Dims())
	}

	shape := make([]int, target.Dims())
	copy(shape, t.Shape())
	for i := t.Dims(); i < target.Dims(); i++ {
		shape[i] = 1
	}

	out := t.Clone().(*tensor.Dense)
	if err := out.Reshape(shape...); err != nil {
		return nil, errors.Wrapf(err, "reshaping to %v failed", shape)
	}

	return out, nil
}

// floatData returns the float64 backing of t. Everything in this package
// operates on float64 tensors; anything else is rejected here.
func floatData(t *tensor.Dense) ([]float64, error) {
	d, ok := t.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("expected float64 backing, got %T", t.Data())
	}
	return d, nil
}

// mixRows returns lam*a + (1-lam)*b elementwise, where lam is a rank-1 vector
// of per-sample weights right-broadcast against the rank of a. a and b must
// have identical shapes whose leading dimension is a multiple of len(lam).
func mixRows(lam, a, b *tensor.Dense) (*tensor.Dense, error) {
	if a == nil {
		return nil, NilArgError{"first operand"}
	} else if b == nil {
		return nil, NilArgError{"second operand"}
	}

	if !a.Shape().Eq(b.Shape()) {
		return nil, errors.Errorf("operand shapes differ (%v != %v)", a.Shape(), b.Shape())
	}

	adapted, err := AdaptDims(lam, a)
	if err != nil {
		return nil, errors.Wrapf(err, "adapting weight vector to %v failed", a.Shape())
	}

	ws, err := floatData(adapted)
	if err != nil {
		return nil, err
	}

	av, err := floatData(a)
	if err != nil {
		return nil, err
	}
	bv, err := floatData(b)
	if err != nil {
		return nil, err
	}

	if len(ws) == 0 || len(av)%len(ws) != 0 {
		return nil, errors.Errorf("weight vector of length %d does not divide tensor of %d values", len(ws), len(av))
	}

	block := len(av) / len(ws)
	out := make([]float64, len(av))
	for i := range ws {
		w := ws[i]
		for j := i * block; j < (i+1)*block; j++ {
			out[j] = w*av[j] + (1-w)*bv[j]
		}
	}

	return tensor.New(tensor.WithShape(a.Shape()...), tensor.WithBacking(out)), nil
}

// permuteRows returns a copy of t with its leading-dimension slices reordered
// by perm, i.e. out[i] = t[perm[i]].
func permuteRows(t *tensor.Dense, perm []int) (*tensor.Dense, error) {
	if t == nil {
		return nil, NilArgError{"tensor"}
	}

	if t.Dims() < 1 {
		return nil, errors.Errorf("tensor must have rank >= 1 (%d)", t.Dims())
	} else if t.Shape()[0] != len(perm) {
		return nil, errors.Errorf("permutation length %d does not match leading dimension %d", len(perm), t.Shape()[0])
	}

	data, err := floatData(t)
	if err != nil {
		return nil, err
	}

	block := len(data) / len(perm)
	out := make([]float64, len(data))
	for i, p := range perm {
		if p < 0 || p >= len(perm) {
			return nil, errors.Errorf("permutation index %d out of range [0, %d)", p, len(perm))
		}
		copy(out[i*block:(i+1)*block], data[p*block:(p+1)*block])
	}

	return tensor.New(tensor.WithShape(t.Shape()...), tensor.WithBacking(out)), nil
}

// concatRows concatenates a and b along the batch (leading) dimension.
func concatRows(a, b *tensor.Dense) (*tensor.Dense, error) {
	if a == nil {
		return nil, NilArgError{"first operand"}
	} else if b == nil {
		return nil, NilArgError{"second operand"}
	}

	out, err := a.Concat(0, b)
	if err != nil {
		return nil, errors.Wrapf(err, "concatenating %v and %v along the batch dimension failed", a.Shape(), b.Shape())
	}

	return out, nil
}

// Reduce collapses a loss tensor according to r: the mean or sum of all its
// values as a scalar tensor, or the tensor itself for ReductionNone.
func Reduce(t *tensor.Dense, r Reduction) (*tensor.Dense, error) {
	if t == nil {
		return nil, NilArgError{"tensor"}
	}

	if r == ReductionNone {
		return t, nil
	}

	data, err := floatData(t)
	if err != nil {
		return nil, err
	}

	var sum float64
	for _, v := range data {
		sum += v
	}

	switch r {
	case ReductionSum:
		return tensor.New(tensor.FromScalar(sum)), nil
	case ReductionMean:
		if len(data) == 0 {
			return nil, errors.Errorf("cannot take the mean of an empty tensor")
		}
		return tensor.New(tensor.FromScalar(sum / float64(len(data)))), nil
	default:
		return nil, errors.Errorf("unknown reduction %v", r)
	}
}
