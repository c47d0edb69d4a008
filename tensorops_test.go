package mixup

import (
	"testing"

	"gorgonia.org/tensor"
)

func TestAdaptDims(t *testing.T) {
	lam := vec(0.5, 0.75, 1.0)
	target := tensor.New(tensor.WithShape(3, 2, 4), tensor.WithBacking(make([]float64, 24)))

	out, err := AdaptDims(lam, target)
	if err != nil {
		t.Fatalf("AdaptDims failed: %v", err)
	}

	want := tensor.Shape{3, 1, 1}
	if !out.Shape().Eq(want) {
		t.Errorf("got shape %v, want %v", out.Shape(), want)
	}

	// the input must not have been reshaped in place
	if lam.Dims() != 1 {
		t.Errorf("AdaptDims modified its input, rank is now %d", lam.Dims())
	}

	// same rank is a no-op reshape
	out, err = AdaptDims(lam, vec(1, 2, 3))
	if err != nil {
		t.Fatalf("AdaptDims failed for equal ranks: %v", err)
	}
	if !out.Shape().Eq(tensor.Shape{3}) {
		t.Errorf("got shape %v, want (3)", out.Shape())
	}
}

func TestAdaptDimsRejectsLowerRankTarget(t *testing.T) {
	lam := tensor.New(tensor.WithShape(3, 2), tensor.WithBacking(make([]float64, 6)))

	if _, err := AdaptDims(lam, vec(1, 2, 3)); err == nil {
		t.Errorf("expected error adapting rank 2 to rank 1")
	}
}

func TestMixRows(t *testing.T) {
	lam := vec(1.0, 0.5)
	a := vec(2, 4)
	b := vec(10, 10)

	out, err := mixRows(lam, a, b)
	if err != nil {
		t.Fatalf("mixRows failed: %v", err)
	}

	// lam weights the first operand
	want := []float64{2, 7}
	for i, v := range values(out) {
		if !almostEq(v, want[i]) {
			t.Errorf("out[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestMixRowsBroadcasts(t *testing.T) {
	lam := vec(0.75, 0.5)
	a := tensor.New(tensor.WithShape(2, 2, 1), tensor.WithBacking([]float64{1, 2, 3, 4}))
	b := tensor.New(tensor.WithShape(2, 2, 1), tensor.WithBacking([]float64{5, 6, 7, 8}))

	out, err := mixRows(lam, a, b)
	if err != nil {
		t.Fatalf("mixRows failed: %v", err)
	}

	if !out.Shape().Eq(a.Shape()) {
		t.Fatalf("got shape %v, want %v", out.Shape(), a.Shape())
	}

	want := []float64{
		0.75*1 + 0.25*5,
		0.75*2 + 0.25*6,
		0.5*3 + 0.5*7,
		0.5*4 + 0.5*8,
	}
	for i, v := range values(out) {
		if !almostEq(v, want[i]) {
			t.Errorf("out[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestMixRowsShapeMismatch(t *testing.T) {
	if _, err := mixRows(vec(0.5), vec(1, 2), vec(1, 2, 3)); err == nil {
		t.Errorf("expected error for mismatched operand shapes")
	}
}

func TestPermuteRows(t *testing.T) {
	in := tensor.New(tensor.WithShape(3, 2), tensor.WithBacking([]float64{1, 2, 3, 4, 5, 6}))

	out, err := permuteRows(in, []int{2, 0, 1})
	if err != nil {
		t.Fatalf("permuteRows failed: %v", err)
	}

	want := []float64{5, 6, 1, 2, 3, 4}
	for i, v := range values(out) {
		if !almostEq(v, want[i]) {
			t.Errorf("out[%d] = %v, want %v", i, v, want[i])
		}
	}

	if _, err := permuteRows(in, []int{0, 1}); err == nil {
		t.Errorf("expected error for wrong permutation length")
	}
}

func TestConcatRows(t *testing.T) {
	a := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1, 2, 3, 4}))
	b := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{5, 6, 7, 8}))

	out, err := concatRows(a, b)
	if err != nil {
		t.Fatalf("concatRows failed: %v", err)
	}

	if !out.Shape().Eq(tensor.Shape{4, 2}) {
		t.Errorf("got shape %v, want (4, 2)", out.Shape())
	}
}

func TestReduce(t *testing.T) {
	in := vec(1, 2, 3, 6)

	mean, err := Reduce(in, ReductionMean)
	if err != nil {
		t.Fatalf("Reduce(mean) failed: %v", err)
	}
	if !mean.IsScalar() || !almostEq(values(mean)[0], 3) {
		t.Errorf("mean = %v, want scalar 3", mean)
	}

	sum, err := Reduce(in, ReductionSum)
	if err != nil {
		t.Fatalf("Reduce(sum) failed: %v", err)
	}
	if !sum.IsScalar() || !almostEq(values(sum)[0], 12) {
		t.Errorf("sum = %v, want scalar 12", sum)
	}

	none, err := Reduce(in, ReductionNone)
	if err != nil {
		t.Fatalf("Reduce(none) failed: %v", err)
	}
	if none != in {
		t.Errorf("ReductionNone should return the tensor unchanged")
	}
}
