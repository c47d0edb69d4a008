package mixup

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Reduction describes how a loss tensor is collapsed to a final value.
type Reduction int

const (
	// ReductionMean averages all loss values into a scalar. The zero value.
	ReductionMean Reduction = iota

	// ReductionSum sums all loss values into a scalar.
	ReductionSum

	// ReductionNone keeps the per-sample loss tensor as is.
	ReductionNone
)

func (r Reduction) String() string {
	switch r {
	case ReductionMean:
		return "mean"
	case ReductionSum:
		return "sum"
	case ReductionNone:
		return "none"
	}
	return "unknown"
}

// Criterion is an opaque loss function: Loss compares a model output against
// a target, reduced according to whatever reduction the criterion currently
// has. Criterions whose reduction can be changed in place should additionally
// implement ReductionSetter; criterions that don't are assumed to already
// produce per-sample losses.
type Criterion interface {
	Loss(output, target *tensor.Dense) (*tensor.Dense, error)
}

// ReductionSetter is implemented by criterions that expose their reduction as
// a mutable setting.
type ReductionSetter interface {
	Reduction() Reduction
	SetReduction(Reduction)
}

// Targets bundles the loss targets for one batch. A plain batch carries only
// Target; a batch with an active mixup plan carries the full triple: the
// original-order targets, the permuted-order targets, and the per-sample
// weight vector (length B, or 2B once doubled for symmetric batches).
type Targets struct {
	Target   *tensor.Dense
	Permuted *tensor.Dense
	Lam      *tensor.Dense
}

// Mixed reports whether the triple carries a mixup plan.
func (t Targets) Mixed() bool {
	return t.Permuted != nil && t.Lam != nil
}

// TargetsCriterion is a criterion that can consume the blended-target triple
// directly. The Learner feeds mixed batches only to criterions implementing
// this; AdaptLoss is the standard way to obtain one.
type TargetsCriterion interface {
	Criterion
	LossTargets(output *tensor.Dense, t Targets) (*tensor.Dense, error)
}

// AdaptedLoss wraps a criterion so it accepts blended targets. The wrapped
// criterion is forced into per-sample mode (its reduction set to
// ReductionNone if it has one); the adapter applies its own reduction after
// blending, mean by default.
type AdaptedLoss struct {
	criterion Criterion

	// Non-nil if the criterion's reduction was overridden and must be restored.
	setter ReductionSetter
	oldRed Reduction

	reduction Reduction
}

// AdaptLoss wraps criterion for use with mixed batches. AdaptLoss panics with
// type NilArgError if criterion is nil.
func AdaptLoss(criterion Criterion) *AdaptedLoss {
	if criterion == nil {
		panic(NilArgError{"Criterion"})
	}

	a := &AdaptedLoss{criterion: criterion}
	if rs, ok := criterion.(ReductionSetter); ok {
		a.setter = rs
		a.oldRed = rs.Reduction()
		rs.SetReduction(ReductionNone)
	}

	return a
}

// WithReduction sets the adapter's own reduction, applied after blending.
func (a *AdaptedLoss) WithReduction(r Reduction) *AdaptedLoss {
	a.reduction = r
	return a
}

// Loss satisfies Criterion for batches without a mixup plan.
func (a *AdaptedLoss) Loss(output, target *tensor.Dense) (*tensor.Dense, error) {
	return a.LossTargets(output, Targets{Target: target})
}

// LossTargets computes the adapted loss. Without a plan it is the plain
// per-sample loss under the adapter's reduction, preserving evaluation
// batches. With a plan it is
//
//	reduce(lam*loss(output, target) + (1-lam)*loss(output, permuted))
//
// with lam right-broadcast to the rank of the loss tensor.
func (a *AdaptedLoss) LossTargets(output *tensor.Dense, t Targets) (*tensor.Dense, error) {
	if output == nil {
		return nil, NilArgError{"output"}
	} else if t.Target == nil {
		return nil, NilArgError{"Targets.Target"}
	}

	if !t.Mixed() {
		raw, err := a.criterion.Loss(output, t.Target)
		if err != nil {
			return nil, errors.Wrapf(err, "wrapped criterion failed")
		}
		return Reduce(raw, a.reduction)
	}

	loss1, err := a.criterion.Loss(output, t.Target)
	if err != nil {
		return nil, errors.Wrapf(err, "wrapped criterion failed on original-order targets")
	}

	loss2, err := a.criterion.Loss(output, t.Permuted)
	if err != nil {
		return nil, errors.Wrapf(err, "wrapped criterion failed on permuted-order targets")
	}

	blended, err := mixRows(t.Lam, loss1, loss2)
	if err != nil {
		return nil, errors.Wrapf(err, "blending losses failed")
	}

	return Reduce(blended, a.reduction)
}

// Original undoes the per-sample override and returns the criterion that was
// passed to AdaptLoss, with its reduction setting restored.
func (a *AdaptedLoss) Original() Criterion {
	if a.setter != nil {
		a.setter.SetReduction(a.oldRed)
		a.setter = nil
	}

	return a.criterion
}
