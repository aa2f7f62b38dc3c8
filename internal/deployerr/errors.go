package deployerr

import (
	"errors"
	"fmt"
)

// Kind classifies a deploy failure. The set is closed: every Kind must be
// handled by Severity, and adding one without doing so panics at the first
// propagation.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindBuild
	KindCompress
	KindConnect
	KindUpload
	KindActivate
	KindBackup
	KindCleanup
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindConfig:
		return "config"
	case KindBuild:
		return "build"
	case KindCompress:
		return "compress"
	case KindConnect:
		return "connect"
	case KindUpload:
		return "upload"
	case KindActivate:
		return "activate"
	case KindBackup:
		return "backup"
	case KindCleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Severity says what an unhandled error of this kind is allowed to abort.
type Severity int

const (
	// SeverityFatal aborts the scope the error was raised in: the whole run
	// for pipeline stages, one host for host stages.
	SeverityFatal Severity = iota
	// SeveritySoft is logged as a warning and never aborts anything.
	SeveritySoft
)

func (k Kind) Severity() Severity {
	switch k {
	case KindConfig, KindBuild, KindCompress, KindConnect, KindUpload, KindActivate, KindUnknown:
		return SeverityFatal
	case KindBackup, KindCleanup:
		return SeveritySoft
	}
	panic(fmt.Sprintf("deployerr: unhandled kind %d", int(k)))
}

// Error is the single error type that crosses stage boundaries.
type Error struct {
	Kind    Kind
	Message string
	Host    string
	Cause   error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to cause. A nil cause yields nil.
func Wrap(kind Kind, cause error, msg string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	prefix := ""
	if e.Host != "" {
		prefix = "[" + e.Host + "] "
	}
	switch {
	case e.Cause == nil:
		return fmt.Sprintf("%s%s: %s", prefix, e.Kind, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s%s: %v", prefix, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s%s: %s: %v", prefix, e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// OnHost returns a copy of e attributed to host. An existing attribution is
// kept.
func (e *Error) OnHost(host string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	if cp.Host == "" {
		cp.Host = host
	}
	return &cp
}

// Classify turns any error into an *Error. Errors that already carry a kind
// are returned as-is; anything else becomes fallback with err as the cause
// and no message of its own.
func Classify(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: fallback, Cause: err}
}

// KindOf reports the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
