package protocol

import (
	"errors"
	"fmt"
)

// JSON-RPC and protocol specific error codes
const (
	ParseErrorCode           = -32700
	InvalidRequestCode       = -32600
	MethodNotFoundCode       = -32601
	InvalidParamsCode        = -32602
	InternalErrorCode        = -32603
	ServerNotInitializedCode = -32002
	RequestCancelledCode     = -32800

	// server defined range, -32099 to -32000
	ServerBusyCode           = -32010
	RemoteProcessFailureCode = -32011
)

var (
	// ErrConnClosed is returned for calls pending or issued after the connection went down
	ErrConnClosed = errors.New("connection closed")
	// ErrTimeout wraps calls abandoned because their context expired
	ErrTimeout = errors.New("request timed out")
)

// ResponseError is the error member of a JSON-RPC response
type ResponseError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("code: %d, message: %s, data: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

// NewError builds a ResponseError with a formatted message
func NewError(code int, format string, args ...interface{}) *ResponseError {
	return &ResponseError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the JSON-RPC code of err, or 0 when err is not a ResponseError
func ErrorCode(err error) int {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.Code
	}
	return 0
}

// asResponseError converts a handler error into what goes on the wire
func asResponseError(err error) *ResponseError {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr
	}
	return &ResponseError{Code: InternalErrorCode, Message: err.Error()}
}
