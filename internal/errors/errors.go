package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidRequest           ErrorCode = "invalid_request"
	MethodNotFound           ErrorCode = "method_not_found"
	InvalidParams            ErrorCode = "invalid_params"
	InternalError            ErrorCode = "internal_error"
	BatchLimitExceeded       ErrorCode = "batch_limit_exceeded"
	TransactionNotFound      ErrorCode = "transaction_not_found"
	DuplicateTransaction     ErrorCode = "duplicate_transaction"
	IllegalTransition        ErrorCode = "illegal_transition"
	UnsupportedProtocol      ErrorCode = "unsupported_protocol"
	UnsupportedActionForKind ErrorCode = "unsupported_action_for_kind"
	DownstreamFailure        ErrorCode = "downstream_failure"
	ConcurrentUpdate         ErrorCode = "concurrent_update"
)

// JSON-RPC 2.0 reserved codes and the application range used for action failures.
const (
	RPCInvalidRequest           = -32600
	RPCMethodNotFound           = -32601
	RPCInvalidParams            = -32602
	RPCInternalError            = -32603
	RPCTransactionNotFound      = -32001
	RPCIllegalTransition        = -32002
	RPCUnsupportedProtocol      = -32003
	RPCUnsupportedActionForKind = -32004
	RPCDownstreamFailure        = -32005
	RPCConcurrentUpdate         = -32006
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	cause   error
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches on code so predefined errors can be compared with errors.Is
// even after WithDetails produced a copy.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies err under code, keeping it reachable through errors.Unwrap.
func Wrap(code ErrorCode, message string, err error) *AppError {
	appErr := &AppError{Code: code, Message: message, cause: err}
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// WithDetails returns a copy so shared predefined errors are never mutated.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// AsAppError extracts the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidRequest, InvalidParams, BatchLimitExceeded:
		return http.StatusBadRequest
	case MethodNotFound, TransactionNotFound:
		return http.StatusNotFound
	case DuplicateTransaction, ConcurrentUpdate:
		return http.StatusConflict
	case IllegalTransition, UnsupportedProtocol, UnsupportedActionForKind:
		return http.StatusUnprocessableEntity
	case DownstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) RPCCode() int {
	switch e.Code {
	case InvalidRequest, BatchLimitExceeded, DuplicateTransaction:
		return RPCInvalidRequest
	case MethodNotFound:
		return RPCMethodNotFound
	case InvalidParams:
		return RPCInvalidParams
	case TransactionNotFound:
		return RPCTransactionNotFound
	case IllegalTransition:
		return RPCIllegalTransition
	case UnsupportedProtocol:
		return RPCUnsupportedProtocol
	case UnsupportedActionForKind:
		return RPCUnsupportedActionForKind
	case DownstreamFailure:
		return RPCDownstreamFailure
	case ConcurrentUpdate:
		return RPCConcurrentUpdate
	default:
		return RPCInternalError
	}
}

// Predefined errors for common cases
var (
	ErrTransactionNotFound  = NewAppError(TransactionNotFound, "transaction not found")
	ErrDuplicateTransaction = NewAppError(DuplicateTransaction, "transaction already exists")
	ErrConcurrentUpdate     = NewAppError(ConcurrentUpdate, "transaction was modified concurrently")
	ErrMessageRequired      = NewAppError(InvalidParams, "message is required")
	ErrCustodyDisabled      = NewAppError(InvalidRequest, "integration with custody service is not enabled")
	ErrCannotBeginTx        = NewAppError(InternalError, "cannot begin a transaction on this executor")
)
