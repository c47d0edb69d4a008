package losses

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	mixup "github.com/sanderson4030/ManifoldMixupV2"
)

// crossEntropy keeps outputs away from log(0).
const ceEpsilon = 1e-12

type crossEntropy struct {
	reduction mixup.Reduction
	print     bool
}

// CrossEntropy returns the cross-entropy criterion for one-hot (or soft)
// targets. Under ReductionNone the loss is per-sample: one value per row of
// the batch, summed over the remaining dimensions.
func CrossEntropy() *crossEntropy {
	return &crossEntropy{}
}

// NegativeLog is a proxy for CrossEntropy.
func NegativeLog() *crossEntropy {
	return CrossEntropy()
}

func (c *crossEntropy) TypeString() string {
	return "cross-entropy"
}

// PrintOuts makes each call to Loss print the targets and outputs.
func (c *crossEntropy) PrintOuts() *crossEntropy {
	c.print = true
	return c
}

func (c *crossEntropy) NoPrint() *crossEntropy {
	c.print = false
	return c
}

func (c *crossEntropy) Reduction() mixup.Reduction {
	return c.reduction
}

func (c *crossEntropy) SetReduction(r mixup.Reduction) {
	c.reduction = r
}

func (c *crossEntropy) Loss(outs, targets *tensor.Dense) (*tensor.Dense, error) {
	ov, tv, err := backings(outs, targets)
	if err != nil {
		return nil, err
	}

	if outs.Dims() < 1 {
		return nil, errors.Errorf("outputs must have rank >= 1 (%d)", outs.Dims())
	}

	if c.print {
		fmt.Println(tv, ov)
	}

	batch := outs.Shape()[0]
	block := len(ov) / batch

	raw := make([]float64, batch)
	for i := 0; i < batch; i++ {
		var sum float64
		for j := i * block; j < (i+1)*block; j++ {
			sum -= tv[j] * math.Log(math.Max(ov[j], ceEpsilon))
		}
		raw[i] = sum
	}

	loss := tensor.New(tensor.WithShape(batch), tensor.WithBacking(raw))
	return mixup.Reduce(loss, c.reduction)
}
