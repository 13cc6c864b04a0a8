package protocol

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	NotImplemented                ErrorCode = "NotImplemented"
	NotSupported                  ErrorCode = "NotSupported"
	InternalError                 ErrorCode = "InternalError"
	ProtocolError                 ErrorCode = "ProtocolError"
	SecurityError                 ErrorCode = "SecurityError"
	FormationViolation            ErrorCode = "FormationViolation"
	PropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	OccurrenceConstraintViolation ErrorCode = "OccurenceConstraintViolation" // 1.6 spelling on the wire
	TypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	GenericError                  ErrorCode = "GenericError"
)

func (c ErrorCode) IsValid() bool {
	switch c {
	case NotImplemented, NotSupported, InternalError, ProtocolError, SecurityError, FormationViolation,
		PropertyConstraintViolation, OccurrenceConstraintViolation, TypeConstraintViolation, GenericError:
		return true
	}
	return false
}

// Error is a domain error a handler returns to answer a call with a CallError.
type Error struct {
	Code        ErrorCode
	Description string
	Details     interface{}
}

func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Code, e.Description)
}

// DecodeError reports an envelope that could not be parsed. UniqueId and
// MessageTypeId are set when they could be recovered from the frame.
type DecodeError struct {
	UniqueId      string
	MessageTypeId MessageType
	Reason        string
}

func (e *DecodeError) Error() string {
	if e.UniqueId != "" {
		return fmt.Sprintf("malformed envelope %v: %v", e.UniqueId, e.Reason)
	}
	return fmt.Sprintf("malformed envelope: %v", e.Reason)
}

// ValidationError reports a well formed message whose content does not match
// the schema of its action.
type ValidationError struct {
	Code   ErrorCode
	Action string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v on %v", e.Code, e.Action)
	}
	return fmt.Sprintf("%v on %v: %v", e.Code, e.Action, e.Cause)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ErrorFrom maps any handler error to the code and description of a CallError.
func ErrorFrom(err error) (ErrorCode, string) {
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code, protocolErr.Description
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Code, validationErr.Error()
	}
	return InternalError, err.Error()
}
