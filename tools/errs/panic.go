package errs

import (
	"fmt"

	pkgerr "github.com/pkg/errors"
)

// ErrPanic converts a recovered panic value into a coded error.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	err := &CodeError{
		Code:   ServerInternalError,
		Msg:    "panic error",
		Detail: fmt.Sprint(r),
	}
	return pkgerr.WithStack(err)
}
