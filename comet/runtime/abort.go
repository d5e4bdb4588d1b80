package runtime

import "errors"

// Short diagnostic codes shared by every contract in this module.
const (
	CodeInvalidArguments = "invalid arguments"
	CodeMethodNotFound   = "method not found"
	CodePrivateMethod    = "method is private"
	CodeRequiresOneYocto = "requires attached deposit of exactly 1 yoctoNEAR"
	CodeUnreachable      = "unreachable"
)

// Abort is a fatal contract error. The receipt fails with Code as its
// diagnostic and every promise created during the call is discarded.
type Abort struct {
	Code string
	Err  error
}

func NewAbort(code string) *Abort {
	return &Abort{Code: code}
}

// Abortf attaches the underlying cause to a code.
func Abortf(code string, err error) *Abort {
	return &Abort{Code: code, Err: err}
}

func (a *Abort) Error() string {
	if a.Err != nil {
		return a.Code + ": " + a.Err.Error()
	}
	return a.Code
}

func (a *Abort) Unwrap() error {
	return a.Err
}

// Is matches any Abort carrying the same code.
func (a *Abort) Is(target error) bool {
	t, ok := target.(*Abort)
	return ok && t.Code == a.Code
}

// AbortCode returns the code of the first Abort in err's chain.
func AbortCode(err error) (string, bool) {
	var abort *Abort
	if errors.As(err, &abort) {
		return abort.Code, true
	}
	return "", false
}
