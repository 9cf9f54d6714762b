package core

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
)

var (
	ErrTimeout            = errors.New("operation timed out")
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrSwapchainLost      = errors.New("swapchain lost")
	ErrInvalidHandle      = errors.New("invalid or stale resource handle")
	ErrFrameState         = errors.New("frame operation called out of order")
)

// FatalError is the panic value used for unrecoverable conditions: device
// failures, allocation failures and misuse of the ownership protocol. Only
// HandleFatal at the top of the program is expected to recover it.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string {
	return "fatal: " + f.Err.Error()
}

func (f *FatalError) Unwrap() error {
	return f.Err
}

// Fatalf logs the message and aborts the current control flow with a
// *FatalError carrying the call site.
func Fatalf(format string, args ...interface{}) {
	err := errors.WithStackDepth(errors.Newf(format, args...), 1)
	getLogger().Errorf("FATAL: "+format, args...)
	panic(&FatalError{Err: err})
}

// FatalIf takes the fatal path when err is not nil, wrapping it with the
// given context.
func FatalIf(err error, format string, args ...interface{}) {
	if err == nil {
		return
	}
	wrapped := errors.WithStackDepth(errors.Wrapf(err, format, args...), 1)
	getLogger().Errorf("FATAL: %s", wrapped.Error())
	panic(&FatalError{Err: wrapped})
}

// HandleFatal must be deferred by main. It turns a *FatalError panic into
// a diagnostic on stderr and a non-zero exit; any other panic is re-raised.
func HandleFatal() {
	r := recover()
	if r == nil {
		return
	}
	fe, ok := r.(*FatalError)
	if !ok {
		panic(r)
	}
	fmt.Fprintf(os.Stderr, "%+v\n", fe.Err)
	os.Exit(1)
}
