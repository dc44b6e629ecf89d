package agent

import "errors"

// Result tells the run loop whether to continue after a journal call or an
// instance run. The zero value is Recoverable.
type Result struct {
	fatal bool
	err   error
}

// Recoverable lets the loop carry on.
func Recoverable() Result { return Result{} }

// Fatal ends the current run and hands err to the caller.
func Fatal(err error) Result {
	if err == nil {
		err = errors.New("run terminated")
	}
	return Result{fatal: true, err: err}
}

// IsFatal reports whether the run must stop.
func (r Result) IsFatal() bool { return r.fatal }

// Err returns the error carried by a fatal result.
func (r Result) Err() error { return r.err }
