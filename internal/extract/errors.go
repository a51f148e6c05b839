package extract

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies engine errors. Its string form is the error_type reported
// for failed batch items.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindParsing           Kind = "ParsingError"
	KindOCR               Kind = "OCRError"
	KindMissingDependency Kind = "MissingDependencyError"
	KindValidationChain   Kind = "ValidationChainError"
	KindUnsupportedFormat Kind = "UnsupportedFormatError"
	KindTimeout           Kind = "TimeoutError"
)

// Error is the typed error returned across the engine boundary.
type Error struct {
	Kind    Kind
	Message string
	// Plugin names the extractor, backend or validator involved, if any.
	Plugin string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Plugin != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Plugin, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches sentinel errors by kind, so errors.Is(err, ErrParsing) works
// for any parsing failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Plugin == "" && t.Cause == nil && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrParsing           = &Error{Kind: KindParsing}
	ErrOCR               = &Error{Kind: KindOCR}
	ErrMissingDependency = &Error{Kind: KindMissingDependency}
	ErrValidationChain   = &Error{Kind: KindValidationChain}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Parsing(plugin string, cause error) error {
	return &Error{Kind: KindParsing, Plugin: plugin, Cause: cause}
}

func Parsingf(plugin, format string, args ...any) error {
	return &Error{Kind: KindParsing, Plugin: plugin, Message: fmt.Sprintf(format, args...)}
}

func OCR(backend string, cause error) error {
	return &Error{Kind: KindOCR, Plugin: backend, Cause: cause}
}

func MissingDependency(name, hint string) error {
	return &Error{Kind: KindMissingDependency, Plugin: name, Message: hint}
}

func ValidationChain(validator string, cause error) error {
	return &Error{Kind: KindValidationChain, Plugin: validator, Cause: cause}
}

func UnsupportedFormat(mimeType string) error {
	return &Error{Kind: KindUnsupportedFormat, Message: fmt.Sprintf("no extractor registered for %q", mimeType)}
}

func Timeout(stage string, cause error) error {
	return &Error{Kind: KindTimeout, Message: "deadline exceeded before " + stage, Cause: cause}
}

// KindOf reports the kind of err. Untyped errors are treated as parsing
// failures and context errors as timeouts.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindParsing
}

// Info flattens err into the structured form carried by batch results.
func Info(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Type: string(KindOf(err)), Message: messageOf(err)}
}

func messageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Cause != nil {
			if msg == "" {
				msg = e.Cause.Error()
			} else {
				msg += ": " + e.Cause.Error()
			}
		}
		if e.Plugin != "" {
			msg = e.Plugin + ": " + msg
		}
		return msg
	}
	return err.Error()
}

// FailedResult is the placeholder returned for an item whose extraction failed.
func FailedResult(err error, mimeType string) Result {
	info := Info(err)
	res := Result{
		Success:  false,
		Content:  fmt.Sprintf("Error: %s: %s", info.Type, info.Message),
		MIMEType: mimeType,
		Error:    info,
	}
	res.Metadata.Set("error_type", info.Type)
	res.Metadata.Set("error_message", info.Message)
	res.Finalize()
	return res
}
