package mixup

import (
	"log"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Mixability is the capability tag every Module reports, fixed when the model
// graph is built. The eligibility filter is a pure function over these tags;
// it never inspects runtime types.
type Mixability int

const (
	// Mixable modules are safe interception points. This is the zero value, so
	// unannotated modules are eligible under the mix-everything policy.
	Mixable Mixability = iota

	// NonMixable marks modules whose semantics break when their output is
	// blended mid-batch: containers, dropout variants, normalization variants,
	// and recurrent cells or layers.
	NonMixable

	// Marked is reported only by the wrapper returned from Mark, and is the
	// sole tag kept when constructing with OnlyMarkedModules.
	Marked
)

func (m Mixability) String() string {
	switch m {
	case Mixable:
		return "mixable"
	case NonMixable:
		return "non-mixable"
	case Marked:
		return "marked"
	}
	return "unknown"
}

// Module is a reference to one sub-module of an externally owned model. The
// package never evaluates modules itself; it only selects them as
// interception points, so the contract is nothing but the capability tag.
type Module interface {
	Mixability() Mixability
}

// MarkedModule wraps a module to flag it as an explicit mixup point. The
// wrapper has no behavior of its own: the model keeps evaluating the wrapped
// module, and the wrapper exists only so the eligibility filter can find it.
type MarkedModule struct {
	Wrapped Module
}

// Mark wraps m so that it reports Marked. Mark panics with type NilArgError
// if m is nil.
func Mark(m Module) *MarkedModule {
	if m == nil {
		panic(NilArgError{"Module"})
	}

	return &MarkedModule{Wrapped: m}
}

func (m *MarkedModule) Mixability() Mixability {
	return Marked
}

// ForwardInterceptor observes one module's output during a forward pass and
// returns the tensor that should take its place. Returning the output
// unchanged makes the interception a no-op.
type ForwardInterceptor func(m Module, output *tensor.Dense) (*tensor.Dense, error)

// InterceptorHandle detaches an installed interceptor. Remove must be safe to
// call more than once.
type InterceptorHandle interface {
	Remove()
}

// Model is the contract an externally owned model must satisfy for mixup to
// drive it. Modules returns the full flattened sub-module list in a stable,
// deterministic traversal order. Evaluate runs one full forward pass; it must
// be re-entrant, since an interceptor may invoke it again from mid-pass.
// Intercept registers fn as the single intercepting observer on target.
type Model interface {
	Modules() []Module
	Evaluate(input *tensor.Dense) (*tensor.Dense, error)
	Intercept(target Module, fn ForwardInterceptor) (InterceptorHandle, error)
}

// eligibleModules returns the ordered candidate set for interception. With
// onlyMarked, only modules wrapped by Mark are kept; otherwise every module
// not tagged NonMixable is kept. An empty result is a configuration error.
func eligibleModules(model Model, onlyMarked bool, logger *log.Logger) ([]Module, error) {
	all := model.Modules()

	keep := make([]Module, 0, len(all))
	for i, m := range all {
		if m == nil {
			return nil, errors.Errorf("model reported a nil module at index %d", i)
		}

		if onlyMarked {
			if m.Mixability() == Marked {
				keep = append(keep, m)
			}
		} else if m.Mixability() != NonMixable {
			keep = append(keep, m)
		}
	}

	if len(keep) == 0 {
		if onlyMarked {
			return nil, errors.Errorf("no module is marked for mixup; wrap one with Mark, or construct with OnlyMarkedModules unset")
		}
		return nil, errors.Errorf("no eligible module for mixup; every module reports NonMixable, so wrap one with Mark and construct with OnlyMarkedModules set")
	}

	logger.Printf("%d modules eligible for mixup", len(keep))
	return keep, nil
}
