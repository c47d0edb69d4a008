// Package mixup implements manifold mixup, a regularization technique that
// linearly interpolates training batches with a shuffled companion batch --
// not only at the inputs, but also at the output of a randomly chosen
// internal module -- and interpolates the loss targets to match.
//
// The package does not know how to build or evaluate models. It works
// against two small contracts: a Model, which exposes its ordered modules,
// a forward-evaluation entry point, and the ability to intercept one
// module's output mid-forward-pass; and a Learner, which drives batches
// through the lifecycle hooks that a Callback may implement.
//
// Basic Usage
//
// Given a Model and a per-sample loss function, training with mixup looks
// like:
//
//		learn, err := mixup.NewLearner(model, losses.MSE())
//		if err != nil {
//			return err
//		}
//
//		mx, err := mixup.Attach(learn, nil)
//		if err != nil {
//			return err
//		}
//
//		err = learn.Train(mixup.TrainArgs{
//			Data:         data,
//			RunCondition: mixup.TrainUntil(10000),
//		})
//
// Passing nil for the configuration uses the defaults: alpha of 0.4, input
// mixup and symmetric batches enabled, every module that does not report
// NonMixable eligible for interception, and the two-slot interception
// protocol.
//
// Choosing Modules
//
// Every Module reports a Mixability tag. Modules whose semantics break when
// their output is blended mid-batch (containers, dropout, normalization,
// recurrent cells) should report NonMixable. To restrict mixup to modules
// picked by hand, wrap them with Mark and construct with OnlyMarkedModules
// set:
//
//		net.Add(mixup.Mark(hidden))
//
// On each training batch one eligible module is drawn uniformly (or index -1,
// meaning the raw input) and a forward interceptor is installed on it for the
// duration of that batch only.
//
// Symmetric Batches
//
// Mixing an internal module requires a second forward pass for the shuffled
// companion batch. With UseSymmetricBatch enabled the second pass is not
// wasted: both mixed activations are kept, the two outputs are concatenated
// along the batch dimension, and the targets are doubled with the pair order
// swapped in the second half, doubling the effective batch size for free.
//
// Loss Adaptation
//
// While training runs, the Learner's criterion is replaced with an adapter
// that computes a per-sample weighted blend of the losses against both
// targets. The original criterion is restored when training ends.
package mixup
