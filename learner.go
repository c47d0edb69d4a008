package mixup

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Callback is the set of lifecycle hooks a training-time transform may
// implement. The Learner invokes them in order for every batch: BatchBegin
// before the forward pass, LossBegin after the forward pass and before the
// loss, with TrainBegin and TrainEnd bracketing the whole run.
//
// Hooks receive the Learner so they can reach its mutable criterion slot.
// BatchBegin and LossBegin receive and return the values they may rewrite,
// so callbacks chain.
type Callback interface {
	TrainBegin(l *Learner) error
	BatchBegin(l *Learner, input *tensor.Dense, target Targets, training bool) (*tensor.Dense, Targets, error)
	LossBegin(l *Learner, output *tensor.Dense, training bool) (*tensor.Dense, error)
	TrainEnd(l *Learner) error
}

// Learner is a minimal training-loop driver: it owns the criterion slot that
// callbacks may swap, and runs batches through the hook sequence. Weight
// updates are not its concern; the loop stops at the reduced loss, which the
// surrounding program back-propagates however it likes.
type Learner struct {
	model     Model
	criterion Criterion
	callbacks []Callback
}

// NewLearner builds a Learner around an externally owned model and its loss
// criterion.
func NewLearner(model Model, criterion Criterion) (*Learner, error) {
	if model == nil {
		return nil, NilArgError{"Model"}
	} else if criterion == nil {
		return nil, NilArgError{"Criterion"}
	}

	return &Learner{model: model, criterion: criterion}, nil
}

// Model returns the model the Learner drives.
func (l *Learner) Model() Model {
	return l.model
}

// Criterion returns the active loss criterion.
func (l *Learner) Criterion() Criterion {
	return l.criterion
}

// SetCriterion replaces the active loss criterion. This is the explicit
// handoff point for callbacks that adapt the loss; nothing else mutates the
// slot. SetCriterion panics with type NilArgError if c is nil.
func (l *Learner) SetCriterion(c Criterion) {
	if c == nil {
		panic(NilArgError{"Criterion"})
	}

	l.criterion = c
}

// WithCallback registers callbacks, in invocation order.
func (l *Learner) WithCallback(cbs ...Callback) *Learner {
	for _, cb := range cbs {
		if cb == nil {
			panic(NilArgError{"Callback"})
		}
		l.callbacks = append(l.callbacks, cb)
	}

	return l
}

// TrainBatch runs one training batch through the hook sequence and returns
// the reduced loss.
func (l *Learner) TrainBatch(input, target *tensor.Dense) (*tensor.Dense, error) {
	return l.runBatch(input, target, true)
}

// EvalBatch runs one evaluation batch. Callbacks see training=false and must
// leave the batch untouched.
func (l *Learner) EvalBatch(input, target *tensor.Dense) (*tensor.Dense, error) {
	return l.runBatch(input, target, false)
}

func (l *Learner) runBatch(input, target *tensor.Dense, training bool) (*tensor.Dense, error) {
	if input == nil {
		return nil, NilArgError{"input"}
	} else if target == nil {
		return nil, NilArgError{"target"}
	}

	targets := Targets{Target: target}

	var err error
	for _, cb := range l.callbacks {
		if input, targets, err = cb.BatchBegin(l, input, targets, training); err != nil {
			return nil, errors.Wrapf(err, "batch-begin hook failed")
		}
	}

	output, evalErr := l.model.Evaluate(input)
	if evalErr != nil {
		output = nil
	}

	// The after-loss hooks run even when the forward pass failed, so
	// interceptors are guaranteed to come down on every exit path.
	for _, cb := range l.callbacks {
		out, cbErr := cb.LossBegin(l, output, training)
		if cbErr != nil {
			if evalErr == nil {
				evalErr = cbErr
			}
			continue
		}
		output = out
	}

	if evalErr != nil {
		return nil, errors.Wrapf(evalErr, "forward pass failed")
	}

	return l.applyLoss(output, targets)
}

func (l *Learner) applyLoss(output *tensor.Dense, targets Targets) (*tensor.Dense, error) {
	if tc, ok := l.criterion.(TargetsCriterion); ok {
		return tc.LossTargets(output, targets)
	}

	if targets.Mixed() {
		return nil, errors.Errorf("criterion %T cannot consume mixed targets; wrap it with AdaptLoss", l.criterion)
	}

	return l.criterion.Loss(output, targets.Target)
}

// Batch is a simple wrapper used to send training samples to the Learner.
type Batch struct {
	Input  *tensor.Dense
	Target *tensor.Dense
}

// DataSupplier is the primary method of providing batches to Train.
type DataSupplier interface {
	// Get returns the next batch, given the current iteration.
	Get(iter int) (Batch, error)
}

// Result is a wrapper for sending back the progress of a training run.
type Result struct {
	// The iteration the result is being sent before.
	Iteration int

	// Average loss since the last result.
	Loss float64
}

// TrainArgs is a proxy for the optional arguments to Train.
type TrainArgs struct {
	// Data supplies the training batches. Required.
	Data DataSupplier

	// RunCondition is called at each successive iteration to determine if
	// training should continue. Required.
	RunCondition func(iter int) bool

	// SendStatus indicates whether to send back the average loss since the
	// last time 'true' was returned. Nil represents an unconditional false.
	//
	// 'true' is ignored on iteration 0.
	SendStatus func(iter int) bool

	// Update is how status updates are returned. May be nil if SendStatus is.
	Update func(Result)
}

// Train runs training batches through the callback lifecycle until
// RunCondition returns false. TrainEnd hooks are guaranteed to run, so a
// swapped criterion is restored even when training fails midway.
func (l *Learner) Train(args TrainArgs) (err error) {
	// handle error cases and set defaults
	{
		if args.Data == nil {
			return errors.Errorf("Data is nil")
		}

		if args.RunCondition == nil {
			return errors.Errorf("RunCondition is nil")
		}

		if args.SendStatus != nil && args.Update == nil {
			return errors.Errorf("SendStatus is set but Update is nil")
		}

		if args.SendStatus == nil {
			args.SendStatus = func(iter int) bool { return false }
		}

		if args.Update == nil {
			args.Update = func(r Result) {}
		}
	}

	for _, cb := range l.callbacks {
		if err := cb.TrainBegin(l); err != nil {
			return errors.Wrapf(err, "train-begin hook failed")
		}
	}

	defer func() {
		for _, cb := range l.callbacks {
			if endErr := cb.TrainEnd(l); endErr != nil && err == nil {
				err = errors.Wrapf(endErr, "train-end hook failed")
			}
		}
	}()

	var statusLoss float64
	var statusSize int

	for iter := 0; ; iter++ {
		if args.SendStatus(iter) && iter != 0 && statusSize != 0 {
			args.Update(Result{
				Iteration: iter,
				Loss:      statusLoss / float64(statusSize),
			})

			statusLoss, statusSize = 0, 0
		}

		if !args.RunCondition(iter) {
			break
		}

		b, err := args.Data.Get(iter)
		if err != nil {
			return errors.Wrapf(err, "failed to get training batch on iteration %d", iter)
		}

		loss, err := l.TrainBatch(b.Input, b.Target)
		if err != nil {
			return errors.Wrapf(err, "training batch failed on iteration %d", iter)
		}

		v, err := scalarLoss(loss)
		if err != nil {
			return errors.Wrapf(err, "reading loss failed on iteration %d", iter)
		}

		statusLoss += v
		statusSize++
	}

	return nil
}

// scalarLoss collapses a loss tensor to a single float for status reporting:
// the value itself for scalar losses, the mean otherwise.
func scalarLoss(t *tensor.Dense) (float64, error) {
	if t == nil {
		return 0, NilArgError{"loss tensor"}
	}

	if t.IsScalar() {
		v, ok := t.Data().(float64)
		if !ok {
			return 0, errors.Errorf("expected float64 loss, got %T", t.Data())
		}
		return v, nil
	}

	data, err := floatData(t)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.Errorf("loss tensor is empty")
	}

	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data)), nil
}

// TrainUntil returns a function that satisfies TrainArgs.RunCondition,
// stopping after maxIterations.
func TrainUntil(maxIterations int) func(int) bool {
	return func(iteration int) bool {
		return iteration < maxIterations
	}
}

// Every returns a function that satisfies TrainArgs.SendStatus. 'frequency'
// is in units of iterations.
func Every(frequency int) func(int) bool {
	return func(iteration int) bool {
		return iteration%frequency == 0
	}
}
