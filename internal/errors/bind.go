package errors

import (
	stderrors "errors"
	"syscall"
)

// BindError translates a listener bind failure into a coded error. The
// message depends on the OS error number; anything unrecognized keeps the
// original error text as the cause.
func BindError(err error, addr string) *MushroomError {
	if err == nil {
		return nil
	}
	var code string
	switch {
	case stderrors.Is(err, syscall.EACCES):
		code = CodeBindPermission
	case stderrors.Is(err, syscall.EADDRINUSE):
		code = CodeBindInUse
	case stderrors.Is(err, syscall.EADDRNOTAVAIL):
		code = CodeBindNotAvailable
	default:
		return New(CodeBindFailed).WithSubject(addr).Wrap(err)
	}
	return New(code).WithSubject(addr).Wrap(err)
}
