package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies outbound failures
type ErrorCode string

const (
	ErrorCodeMarshal    ErrorCode = "MARSHAL_ERROR"
	ErrorCodeBadStatus  ErrorCode = "BAD_STATUS"
	ErrorCodeParse      ErrorCode = "PARSE_ERROR"
	ErrorCodeTimeout    ErrorCode = "TIMEOUT"
	ErrorCodeConnection ErrorCode = "CONNECTION_ERROR"
)

// PartnerError is a classified failure of a call to an upstream service
type PartnerError struct {
	Partner    string
	Code       ErrorCode
	StatusCode int
	Message    string
	Cause      error
}

func (e *PartnerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Partner, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Partner, e.Message)
}

func (e *PartnerError) Unwrap() error {
	return e.Cause
}

// NewMarshalError wraps a request encoding failure
func NewMarshalError(partner string, cause error) *PartnerError {
	return &PartnerError{
		Partner: partner,
		Code:    ErrorCodeMarshal,
		Message: "failed to marshal request",
		Cause:   cause,
	}
}

// NewBadStatusError records a 4xx/5xx answer and a bounded slice of its body
func NewBadStatusError(partner string, statusCode int, body []byte) *PartnerError {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &PartnerError{
		Partner:    partner,
		Code:       ErrorCodeBadStatus,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("unexpected status %d: %s", statusCode, body),
	}
}

// NewParseError wraps a response decoding failure
func NewParseError(partner string, cause error) *PartnerError {
	return &PartnerError{
		Partner: partner,
		Code:    ErrorCodeParse,
		Message: "failed to parse response",
		Cause:   cause,
	}
}

// NewCallError classifies a transport failure as timeout or connection error
func NewCallError(partner string, cause error) *PartnerError {
	code := ErrorCodeConnection
	msg := "request failed"
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrorCodeTimeout
		msg = "request timed out"
	}
	return &PartnerError{
		Partner: partner,
		Code:    code,
		Message: msg,
		Cause:   cause,
	}
}

// IsTimeout reports whether err is a classified timeout
func IsTimeout(err error) bool {
	var pe *PartnerError
	if errors.As(err, &pe) {
		return pe.Code == ErrorCodeTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}
