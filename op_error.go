package asyncval

import (
	"errors"
	"fmt"
)

// OpError wraps an error together with the [OpInfo] of the operation that
// produced it. Scope aggregation and the race helpers wrap every failure in
// an OpError so callers can attribute errors in a composite failure to the
// specific operation that raised them.
type OpError struct {
	Op  OpInfo
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("operation %q failed: %v", e.Op.Name, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsOpError reports whether err (or any error in its chain) is a [*OpError].
func IsOpError(err error) bool {
	if err == nil {
		return false
	}
	var oe *OpError
	return errors.As(err, &oe)
}

// OpOf extracts the [OpInfo] from the first [*OpError] in err's chain.
// Returns false if no OpError is found.
func OpOf(err error) (OpInfo, bool) {
	if err == nil {
		return OpInfo{}, false
	}

	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Op, true
	}
	return OpInfo{}, false
}

// CauseOf unwraps the first [*OpError] in err's chain and returns its
// underlying cause. If err is not an OpError, it is returned as-is.
// Returns nil if err is nil.
func CauseOf(err error) error {
	if err == nil {
		return nil
	}

	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Err
	}
	return err
}

// AllOpErrors recursively collects every [*OpError] from err's chain,
// including errors combined via [errors.Join]. It is the structural way to
// inspect a composite failure from [WaitAny] or [WaitAll]. Returns nil if
// none are found.
func AllOpErrors(err error) []*OpError {
	if err == nil {
		return nil
	}

	var out []*OpError
	collectOpErrors(err, &out)
	return out
}

func collectOpErrors(err error, out *[]*OpError) {
	switch e := err.(type) {
	case *OpError:
		*out = append(*out, e)

	case interface{ Unwrap() []error }:
		for _, sub := range e.Unwrap() {
			collectOpErrors(sub, out)
		}

	case interface{ Unwrap() error }:
		collectOpErrors(e.Unwrap(), out)
	}
}
