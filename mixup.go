package mixup

import (
	"log"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// Protocol selects how the forward interceptor recovers both intermediate
// activations from a single external forward call. The choice is made at
// construction and never changes within a run.
type Protocol int

const (
	// TwoSlot tracks the two intermediate activations in explicit slots and
	// tolerates the selected module firing more than twice in one batch by
	// passing the extra activations through unmixed (warning once per run).
	// This is the default.
	TwoSlot Protocol = iota

	// Interleaved threads both activations through a single reused slot. It
	// assumes the model invokes the selected module exactly once per forward
	// pass.
	Interleaved
)

func (p Protocol) String() string {
	switch p {
	case TwoSlot:
		return "two-slot"
	case Interleaved:
		return "interleaved"
	}
	return "unknown"
}

// Config collects the construction-time options for a Mixup callback. Start
// from DefaultConfig rather than a zero Config: the zero value disables input
// mixup and symmetric batches, which is rarely what you want.
type Config struct {
	// Alpha is the concentration of the Beta(alpha, alpha) distribution the
	// per-sample interpolation weights are drawn from. Must be > 0; zero means
	// "use the default" (0.4).
	Alpha float64

	// UseInputMixup permits drawing module index -1, which mixes the raw batch
	// input instead of an internal activation.
	UseInputMixup bool

	// UseSymmetricBatch keeps both forward passes' outputs when an internal
	// module is mixed, doubling the effective batch size for free.
	UseSymmetricBatch bool

	// OnlyMarkedModules restricts the candidate set to modules wrapped with
	// Mark. Otherwise every module not tagged NonMixable is a candidate.
	OnlyMarkedModules bool

	// Protocol selects the interception protocol.
	Protocol Protocol

	// Source seeds all randomness (weight draws, permutations, module
	// selection). Nil means a time-seeded source.
	Source rand.Source

	// Logger receives the eligible-module count and the warn-once diagnostic.
	// Nil means the standard global logger.
	Logger *log.Logger
}

// DefaultConfig returns the standard configuration: alpha 0.4, input mixup
// and symmetric batches enabled, all non-NonMixable modules eligible, and the
// two-slot protocol.
func DefaultConfig() *Config {
	return &Config{
		Alpha:             0.4,
		UseInputMixup:     true,
		UseSymmetricBatch: true,
	}
}

// Mixup is the training callback that applies manifold mixup. One instance
// serves one Model and must only be driven from a single training thread: all
// of its transient state is scoped to the window between one batch's
// BatchBegin and its LossBegin.
type Mixup struct {
	model   Model
	modules []Module

	alpha             float64
	useInputMixup     bool
	useSymmetricBatch bool
	protocol          Protocol

	rng    *rand.Rand
	beta   distuv.Beta
	logger *log.Logger

	// Non-nil while the bound Learner's criterion is swapped out.
	adapted *AdaptedLoss

	// Per-batch plan. Valid between BatchBegin and LossBegin of one training
	// batch; reset on every path out of that window.
	active     bool
	inputMixup bool
	lam        *tensor.Dense
	perm       []int
	permInput  *tensor.Dense
	hook       InterceptorHandle

	// Interceptor slots. slotA doubles as the single reused slot of the
	// interleaved protocol.
	slotA  *tensor.Dense
	slotB  *tensor.Dense
	cached *tensor.Dense

	warned bool
}

// New builds a Mixup callback for model. A nil config means DefaultConfig.
// New fails if alpha is negative, or if the module-selection policy yields an
// empty candidate set.
func New(model Model, config *Config) (*Mixup, error) {
	if model == nil {
		return nil, NilArgError{"Model"}
	}

	if config == nil {
		config = DefaultConfig()
	}

	cfg := *config
	if cfg.Alpha == 0 {
		cfg.Alpha = 0.4
	} else if cfg.Alpha < 0 {
		return nil, errors.Errorf("alpha must be > 0 (%v)", cfg.Alpha)
	}

	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Source == nil {
		cfg.Source = rand.NewSource(uint64(time.Now().UnixNano()))
	}

	modules, err := eligibleModules(model, cfg.OnlyMarkedModules, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &Mixup{
		model:             model,
		modules:           modules,
		alpha:             cfg.Alpha,
		useInputMixup:     cfg.UseInputMixup,
		useSymmetricBatch: cfg.UseSymmetricBatch,
		protocol:          cfg.Protocol,
		rng:               rand.New(cfg.Source),
		beta:              distuv.Beta{Alpha: cfg.Alpha, Beta: cfg.Alpha, Src: cfg.Source},
		logger:            cfg.Logger,
	}, nil
}

// Attach builds a Mixup callback from the Learner's model and registers it.
func Attach(l *Learner, config *Config) (*Mixup, error) {
	if l == nil {
		return nil, NilArgError{"Learner"}
	}

	mx, err := New(l.Model(), config)
	if err != nil {
		return nil, err
	}

	mx.Bind(l)
	return mx, nil
}

// Bind registers the callback's lifecycle hooks with l.
func (mx *Mixup) Bind(l *Learner) *Learner {
	return l.WithCallback(mx)
}

// Modules returns the candidate module set, in model traversal order. The
// returned slice is a copy.
func (mx *Mixup) Modules() []Module {
	ms := make([]Module, len(mx.modules))
	copy(ms, mx.modules)
	return ms
}

// TrainBegin swaps the Learner's criterion for an adapter that understands
// blended targets.
func (mx *Mixup) TrainBegin(l *Learner) error {
	if l == nil {
		return NilArgError{"Learner"}
	}

	mx.warned = false
	mx.adapted = AdaptLoss(l.Criterion())
	l.SetCriterion(mx.adapted)
	return nil
}

// TrainEnd restores the Learner's original criterion and drops any plan
// state left over from the final batch.
func (mx *Mixup) TrainEnd(l *Learner) error {
	if l == nil {
		return NilArgError{"Learner"}
	}

	if mx.adapted != nil {
		l.SetCriterion(mx.adapted.Original())
		mx.adapted = nil
	}

	mx.resetPlan()
	return nil
}

// BatchBegin draws the per-batch mixup plan: the weight vector, the batch
// permutation, and the module index. Index -1 mixes the input in place; any
// other index installs a forward interceptor on the chosen module. Non-training
// batches pass through untouched.
//
// BatchBegin panics with ErrInterceptorLeak if the previous batch's
// interceptor is still installed, since that indicates the after-loss hook was
// skipped and training would silently corrupt.
func (mx *Mixup) BatchBegin(l *Learner, input *tensor.Dense, target Targets, training bool) (*tensor.Dense, Targets, error) {
	if !training {
		return input, target, nil
	}

	if mx.hook != nil {
		panic(ErrInterceptorLeak)
	}
	mx.resetPlan()

	if input == nil {
		return nil, Targets{}, NilArgError{"input"}
	} else if target.Target == nil {
		return nil, Targets{}, NilArgError{"Targets.Target"}
	} else if target.Mixed() {
		return nil, Targets{}, errors.Errorf("targets are already mixed; only one mixup plan may be active per batch")
	}

	batch := target.Target.Shape()[0]
	if input.Dims() < 1 || input.Shape()[0] != batch {
		return nil, Targets{}, errors.Errorf("input leading dimension %v does not match batch size %d", input.Shape(), batch)
	}

	lam := mx.drawLam(batch)
	perm := mx.rng.Perm(batch)

	permTarget, err := permuteRows(target.Target, perm)
	if err != nil {
		return nil, Targets{}, errors.Wrapf(err, "permuting targets failed")
	}

	mx.active = true
	mx.lam = lam
	mx.perm = perm
	outputLam := lam
	target1 := target.Target

	if k := mx.pickModule(); k < 0 {
		mx.inputMixup = true

		permInput, err := permuteRows(input, perm)
		if err != nil {
			mx.resetPlan()
			return nil, Targets{}, errors.Wrapf(err, "permuting inputs failed")
		}

		if input, err = mixRows(lam, input, permInput); err != nil {
			mx.resetPlan()
			return nil, Targets{}, errors.Wrapf(err, "mixing inputs failed")
		}
	} else {
		mx.inputMixup = false

		if mx.permInput, err = permuteRows(input, perm); err != nil {
			mx.resetPlan()
			return nil, Targets{}, errors.Wrapf(err, "permuting inputs failed")
		}

		fn := mx.interceptTwoSlot
		if mx.protocol == Interleaved {
			fn = mx.interceptInterleaved
		}

		if mx.hook, err = mx.model.Intercept(mx.modules[k], fn); err != nil {
			mx.resetPlan()
			return nil, Targets{}, errors.Wrapf(err, "installing interceptor on module %d failed", k)
		}

		if mx.useSymmetricBatch {
			// Both passes' outputs will be kept, so the target pair and the
			// weight vector are doubled, with the pair order swapped in the
			// second half.
			t1, err := concatRows(target1, permTarget)
			if err != nil {
				mx.teardown()
				return nil, Targets{}, errors.Wrapf(err, "doubling targets failed")
			}
			t2, err := concatRows(permTarget, target1)
			if err != nil {
				mx.teardown()
				return nil, Targets{}, errors.Wrapf(err, "doubling targets failed")
			}
			if outputLam, err = concatRows(lam, lam); err != nil {
				mx.teardown()
				return nil, Targets{}, errors.Wrapf(err, "doubling weight vector failed")
			}

			target1, permTarget = t1, t2
		}
	}

	return input, Targets{Target: target1, Permuted: permTarget, Lam: outputLam}, nil
}

// LossBegin runs after the forward pass and before the loss. For a
// module-mixup batch it removes the interceptor, clears the activation slots,
// and (in symmetric mode) concatenates the companion pass's cached output onto
// the driver's output. Calling it again for the same batch is a no-op, so
// cleanup can never double-concatenate.
//
// A nil output is permitted so drivers can tear down after a failed forward
// pass; the teardown still runs and nil is returned.
func (mx *Mixup) LossBegin(l *Learner, output *tensor.Dense, training bool) (*tensor.Dense, error) {
	if !training || !mx.active || mx.inputMixup {
		return output, nil
	}

	mx.teardown()

	cached := mx.cached
	mx.cached = nil
	mx.active = false

	if output == nil {
		return nil, nil
	}

	if mx.useSymmetricBatch {
		if cached == nil {
			return nil, errors.Errorf("companion pass output was never produced; the selected module did not fire")
		}

		out, err := concatRows(output, cached)
		if err != nil {
			return nil, errors.Wrapf(err, "stacking companion output failed")
		}
		output = out
	}

	return output, nil
}

// interceptInterleaved is the single-slot interception protocol: the first
// firing stores its activation and synchronously re-enters the model with the
// permuted companion input, which fires the interceptor a second time. Both
// firings return their activation blended with the other pass's.
func (mx *Mixup) interceptInterleaved(_ Module, output *tensor.Dense) (*tensor.Dense, error) {
	if mx.slotA == nil {
		mx.slotA = output

		nested, err := mx.model.Evaluate(mx.permInput)
		if err != nil {
			return nil, errors.Wrapf(err, "companion forward pass failed")
		}
		mx.cached = nested

		// The nested pass left its own activation in the slot.
		mixed, err := mixRows(mx.lam, output, mx.slotA)
		mx.slotA = nil
		return mixed, err
	}

	mixed, err := mixRows(mx.lam, output, mx.slotA)
	mx.slotA = output
	return mixed, err
}

// interceptTwoSlot is the two-slot interception protocol. Unlike the
// interleaved variant it keeps both activations in dedicated slots, which lets
// it detect a module firing a third time in one batch (a model reusing the
// same module instance within a pass) and degrade to passing the activation
// through unmixed.
func (mx *Mixup) interceptTwoSlot(_ Module, output *tensor.Dense) (*tensor.Dense, error) {
	switch {
	case mx.slotA == nil:
		mx.slotA = output

		nested, err := mx.model.Evaluate(mx.permInput)
		if err != nil {
			return nil, errors.Wrapf(err, "companion forward pass failed")
		}
		mx.cached = nested

		if mx.slotB == nil {
			return nil, ErrMissingCompanion
		}
		return mixRows(mx.lam, output, mx.slotB)

	case mx.slotB == nil:
		mx.slotB = output
		return mixRows(mx.lam, output, mx.slotA)

	default:
		if !mx.warned {
			mx.logger.Printf("mixup: selected module fired more than twice in one batch; extra activations pass through unmixed")
			mx.warned = true
		}
		return output, nil
	}
}

// teardown removes the interceptor and clears the activation slots. Safe to
// call any number of times.
func (mx *Mixup) teardown() {
	if mx.hook != nil {
		mx.hook.Remove()
		mx.hook = nil
	}

	mx.slotA = nil
	mx.slotB = nil
	mx.permInput = nil
}

// resetPlan drops all per-batch state, interceptor included.
func (mx *Mixup) resetPlan() {
	mx.teardown()
	mx.active = false
	mx.inputMixup = false
	mx.lam = nil
	mx.perm = nil
	mx.cached = nil
}

// drawLam draws the per-sample interpolation weights: each is the max of a
// Beta(alpha, alpha) draw and its complement, so every weight lies in
// [0.5, 1] and the sample's own contribution always dominates the pair.
func (mx *Mixup) drawLam(n int) *tensor.Dense {
	ws := make([]float64, n)
	for i := range ws {
		b := mx.beta.Rand()
		if 1-b > b {
			b = 1 - b
		}
		ws[i] = b
	}

	return tensor.New(tensor.WithShape(n), tensor.WithBacking(ws))
}

// pickModule draws the module index for this batch: -1 means "mix the raw
// input", and is only drawn when input mixup is permitted.
func (mx *Mixup) pickModule() int {
	if mx.useInputMixup {
		return mx.rng.Intn(len(mx.modules)+1) - 1
	}

	return mx.rng.Intn(len(mx.modules))
}
