package domain

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeConnectivity         ErrorCode = "CONNECTIVITY"
	CodeDiscovery            ErrorCode = "DISCOVERY"
	CodeInvocation           ErrorCode = "INVOCATION"
	CodeDeadlineExceeded     ErrorCode = "DEADLINE_EXCEEDED"
	CodeInvalidArgument      ErrorCode = "INVALID_ARGUMENT"
	CodeStorageInconsistency ErrorCode = "STORAGE_INCONSISTENCY"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeCanceled             ErrorCode = "CANCELED"
	CodeInternal             ErrorCode = "INTERNAL"
)

type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	Meta      map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is lets errors.Is match a coded error against the sentinel of its code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	// Discovery failures are a kind of connectivity failure.
	if e.Code == CodeDiscovery && target == ErrConnectivity {
		return true
	}
	sentinel := sentinelFor(e.Code)
	return sentinel != nil && target == sentinel
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:      code,
		Op:        op,
		Message:   msg,
		Cause:     cause,
		Retryable: code == CodeDeadlineExceeded,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:      existing.Code,
			Op:        op,
			Message:   existing.Message,
			Cause:     existing.Cause,
			Retryable: existing.Retryable,
			Meta:      existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// WrapContext maps context errors to their codes and everything else to fallback.
func WrapContext(fallback ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return Wrap(existing.Code, op, err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return E(CodeDeadlineExceeded, op, "", err)
	case errors.Is(err, context.Canceled):
		return E(CodeCanceled, op, "", err)
	default:
		return E(fallback, op, "", err)
	}
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrConnectivity):
		return CodeConnectivity, true
	case errors.Is(err, ErrDiscovery):
		return CodeDiscovery, true
	case errors.Is(err, ErrInvocation):
		return CodeInvocation, true
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded, true
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPathOutsideRoot):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrStorageInconsistency):
		return CodeStorageInconsistency, true
	case errors.Is(err, ErrToolNotFound), errors.Is(err, ErrEndpointNotFound):
		return CodeNotFound, true
	case errors.Is(err, context.Canceled):
		return CodeCanceled, true
	default:
		return "", false
	}
}

// IsRetryable reports whether the caller may retry err. Only timeouts qualify.
func IsRetryable(err error) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sentinelFor(code ErrorCode) error {
	switch code {
	case CodeConnectivity:
		return ErrConnectivity
	case CodeDiscovery:
		return ErrDiscovery
	case CodeInvocation:
		return ErrInvocation
	case CodeDeadlineExceeded:
		return ErrTimeout
	case CodeInvalidArgument:
		return ErrValidation
	case CodeStorageInconsistency:
		return ErrStorageInconsistency
	default:
		return nil
	}
}
