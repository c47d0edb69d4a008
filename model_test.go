package mixup

import (
	"io"
	"log"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// stubModule is a linear scaling module: a chain of them makes the whole
// model linear, so mixed activations can be verified in closed form.
type stubModule struct {
	tag   Mixability
	scale float64
}

func (m *stubModule) Mixability() Mixability {
	return m.tag
}

// stubModel evaluates its modules in order and supports one interceptor. A
// module instance may appear more than once in the list, in which case the
// interceptor fires at every occurrence.
type stubModel struct {
	modules []Module

	hook       ForwardInterceptor
	hookTarget Module

	evals    int
	installs int
	removals int
}

func (s *stubModel) Modules() []Module {
	return s.modules
}

func (s *stubModel) Evaluate(input *tensor.Dense) (*tensor.Dense, error) {
	s.evals++

	data, err := floatData(input)
	if err != nil {
		return nil, err
	}

	cur := make([]float64, len(data))
	copy(cur, data)
	out := tensor.New(tensor.WithShape(input.Shape()...), tensor.WithBacking(cur))

	for _, m := range s.modules {
		inner := m
		if mm, ok := m.(*MarkedModule); ok {
			inner = mm.Wrapped
		}
		sm, ok := inner.(*stubModule)
		if !ok {
			return nil, errors.Errorf("unexpected module type %T", inner)
		}

		ov, err := floatData(out)
		if err != nil {
			return nil, err
		}
		next := make([]float64, len(ov))
		for i := range ov {
			next[i] = sm.scale * ov[i]
		}
		out = tensor.New(tensor.WithShape(input.Shape()...), tensor.WithBacking(next))

		if s.hook != nil && m == s.hookTarget {
			if out, err = s.hook(m, out); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func (s *stubModel) Intercept(target Module, fn ForwardInterceptor) (InterceptorHandle, error) {
	if s.hook != nil {
		return nil, errors.Errorf("an interceptor is already installed")
	}

	var found bool
	for _, m := range s.modules {
		if m == target {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.Errorf("module is not part of the model")
	}

	s.hook, s.hookTarget = fn, target
	s.installs++
	return &stubHandle{model: s}, nil
}

type stubHandle struct {
	model   *stubModel
	removed bool
}

func (h *stubHandle) Remove() {
	if h.removed {
		return
	}

	h.removed = true
	h.model.hook = nil
	h.model.hookTarget = nil
	h.model.removals++
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func vec(vals ...float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(vals)), tensor.WithBacking(vals))
}

func rangeVec(n int) *tensor.Dense {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	return vec(vals...)
}

func values(t *tensor.Dense) []float64 {
	if t.IsScalar() {
		return []float64{t.Data().(float64)}
	}
	return t.Data().([]float64)
}

func almostEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
