package mixup

// Error is a wrapper for specific types of errors for which there is no additional information
// necessary. These errors are defined as global variables.
type Error struct{ string }

func (err Error) Error() string {
	return err.string
}

// These are the global errors that may be returned or panicked.
var (
	// ErrInterceptorLeak is panicked when a batch begins while the previous batch's forward
	// interceptor is still installed. This indicates a defect in hook ordering, not a user
	// error: the after-loss hook must run for every batch, on every exit path.
	ErrInterceptorLeak = Error{"interceptor from a previous batch was never removed"}

	// ErrMissingCompanion is returned by an interception that needs the companion pass's
	// activation before the companion pass has produced one.
	ErrMissingCompanion = Error{"companion activation is not available yet"}
)

// NilArgError documents errors resulting from certain arguments provided to a function being nil.
type NilArgError struct{ string }

func (err NilArgError) Error() string {
	return err.string + " is nil"
}
