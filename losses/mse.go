// Package losses provides stock per-sample loss criterions for use with the
// mixup package. All of them implement mixup.Criterion and
// mixup.ReductionSetter, so they can be adapted for blended targets and
// restored afterwards.
package losses

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	mixup "github.com/sanderson4030/ManifoldMixupV2"
)

type mse struct {
	reduction mixup.Reduction
	print     bool
}

// MSE returns the squared-error criterion. Under ReductionNone the loss is
// elementwise, matching the shape of the output.
func MSE() *mse {
	return &mse{}
}

// L2 is a proxy for MSE.
func L2() *mse {
	return MSE()
}

func (m *mse) TypeString() string {
	return "mse"
}

// PrintOuts makes each call to Loss print the targets and outputs.
func (m *mse) PrintOuts() *mse {
	m.print = true
	return m
}

func (m *mse) NoPrint() *mse {
	m.print = false
	return m
}

func (m *mse) Reduction() mixup.Reduction {
	return m.reduction
}

func (m *mse) SetReduction(r mixup.Reduction) {
	m.reduction = r
}

func (m *mse) Loss(outs, targets *tensor.Dense) (*tensor.Dense, error) {
	ov, tv, err := backings(outs, targets)
	if err != nil {
		return nil, err
	}

	if m.print {
		fmt.Println(tv, ov)
	}

	raw := make([]float64, len(ov))
	for i := range ov {
		d := ov[i] - tv[i]
		raw[i] = d * d
	}

	loss := tensor.New(tensor.WithShape(outs.Shape()...), tensor.WithBacking(raw))
	return mixup.Reduce(loss, m.reduction)
}

// backings extracts the float64 data of both tensors, checking they line up.
func backings(outs, targets *tensor.Dense) ([]float64, []float64, error) {
	if outs == nil {
		return nil, nil, errors.Errorf("outputs is nil")
	} else if targets == nil {
		return nil, nil, errors.Errorf("targets is nil")
	}

	ov, ok := outs.Data().([]float64)
	if !ok {
		return nil, nil, errors.Errorf("expected float64 outputs, got %T", outs.Data())
	}

	tv, ok := targets.Data().([]float64)
	if !ok {
		return nil, nil, errors.Errorf("expected float64 targets, got %T", targets.Data())
	}

	if len(ov) != len(tv) {
		return nil, nil, errors.Errorf("len(outputs) != len(targets) (%d != %d)", len(ov), len(tv))
	}

	return ov, tv, nil
}
