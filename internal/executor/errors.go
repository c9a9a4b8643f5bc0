package executor

import (
	"errors"
	"fmt"
)

var (
	ErrSecurity          = errors.New("security")
	ErrCircularReference = errors.New("circular reference")
	ErrArgument          = errors.New("argument")
	ErrResolution        = errors.New("resolution")
	ErrUnsupported       = errors.New("unsupported")
)

// DispatchError is a typed failure raised by the dispatcher itself. Errors
// raised by collaborators propagate unwrapped.
type DispatchError struct {
	Kind error
	Name string
	Msg  string
}

func (e *DispatchError) Error() string { return e.Msg }
func (e *DispatchError) Unwrap() error { return e.Kind }

func securityError(name, description string) error {
	return &DispatchError{Kind: ErrSecurity, Name: name, Msg: "Security: Exec command blocked - " + description}
}

func circularError(name string) error {
	return &DispatchError{Kind: ErrCircularReference, Name: name, Msg: fmt.Sprintf("Circular command reference detected: %s -> %s", name, name)}
}

func argumentError(name, msg string) error {
	return &DispatchError{Kind: ErrArgument, Name: name, Msg: msg}
}

func resolutionError(name, format string, args ...any) error {
	return &DispatchError{Kind: ErrResolution, Name: name, Msg: fmt.Sprintf(format, args...)}
}

func unsupportedError(name, kind string) error {
	return &DispatchError{Kind: ErrUnsupported, Name: name, Msg: "Unsupported executable type: " + kind}
}

// NoRuntimeError reports a code language with no registered runtime.
func NoRuntimeError(language string) error {
	return resolutionError(language, "No runtime registered for language: %s", language)
}

// NotFoundError reports an executable name missing from scope.
func NotFoundError(name string) error {
	return resolutionError(name, "Command not found: %s", name)
}
