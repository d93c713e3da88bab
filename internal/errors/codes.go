package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for ledger operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument      ErrorCode = 1000
	ErrCodeItemNotFound         ErrorCode = 1001
	ErrCodeInvalidHeaderAddress ErrorCode = 1002
	ErrCodeSessionConsumed      ErrorCode = 1003
	ErrCodeReadOnly             ErrorCode = 1004

	// Concurrency errors
	ErrCodeHeadMoved        ErrorCode = 1500
	ErrCodeRetriesExhausted ErrorCode = 1501

	// Server errors (5xx equivalent)
	ErrCodeInternal      ErrorCode = 2000
	ErrCodeUnavailable   ErrorCode = 2001
	ErrCodeDiskFull      ErrorCode = 2002
	ErrCodeDiskThrottled ErrorCode = 2003
	ErrCodeStoreFailed   ErrorCode = 2004
	ErrCodeCorruptedData ErrorCode = 2005
	ErrCodePublishFailed ErrorCode = 2006
	ErrCodeCancelled     ErrorCode = 2007
	ErrCodeChainFull     ErrorCode = 2008
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                   "OK",
	ErrCodeInvalidArgument:      "InvalidArgument",
	ErrCodeItemNotFound:         "ItemNotFound",
	ErrCodeInvalidHeaderAddress: "InvalidHeaderAddress",
	ErrCodeSessionConsumed:      "SessionConsumed",
	ErrCodeReadOnly:             "ReadOnly",
	ErrCodeHeadMoved:            "HeadMoved",
	ErrCodeRetriesExhausted:     "RetriesExhausted",
	ErrCodeInternal:             "Internal",
	ErrCodeUnavailable:          "Unavailable",
	ErrCodeDiskFull:             "DiskFull",
	ErrCodeDiskThrottled:        "DiskThrottled",
	ErrCodeStoreFailed:          "StoreFailed",
	ErrCodeCorruptedData:        "CorruptedData",
	ErrCodePublishFailed:        "PublishFailed",
	ErrCodeCancelled:            "Cancelled",
	ErrCodeChainFull:            "ChainFull",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StorageError to gRPC status
func (e *StorageError) ToGRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

// GRPCCode maps the internal error code to a gRPC code
func (e *StorageError) GRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidHeaderAddress:
		return codes.InvalidArgument
	case ErrCodeItemNotFound:
		return codes.NotFound
	case ErrCodeHeadMoved, ErrCodeRetriesExhausted:
		return codes.Aborted
	case ErrCodeSessionConsumed, ErrCodeReadOnly:
		return codes.FailedPrecondition
	case ErrCodeDiskFull, ErrCodeChainFull:
		return codes.ResourceExhausted
	case ErrCodeDiskThrottled, ErrCodeUnavailable, ErrCodePublishFailed:
		return codes.Unavailable
	case ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodeCancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func ItemNotFound(index uint32) *StorageError {
	return NewStorageError(ErrCodeItemNotFound, fmt.Sprintf("no chain item at index %d", index), nil).
		WithDetail("index", index)
}

func InvalidHeaderAddress(address, reason string) *StorageError {
	return NewStorageError(ErrCodeInvalidHeaderAddress, fmt.Sprintf("invalid header address %q: %s", address, reason), nil).
		WithDetail("header_address", address).
		WithDetail("reason", reason)
}

// HeadMoved reports that the persisted chain head no longer matches the
// head the session was opened against.
func HeadMoved(expected, actual string) *StorageError {
	return NewStorageError(ErrCodeHeadMoved, "source chain head has moved", nil).
		WithDetail("expected_head", expected).
		WithDetail("actual_head", actual)
}

func RetriesExhausted(attempts int, cause error) *StorageError {
	return NewStorageError(ErrCodeRetriesExhausted, fmt.Sprintf("commit abandoned after %d attempts", attempts), cause).
		WithDetail("attempts", attempts)
}

func SessionConsumed(operation string) *StorageError {
	return NewStorageError(ErrCodeSessionConsumed, fmt.Sprintf("%s on a consumed session", operation), nil).
		WithDetail("operation", operation)
}

func ReadOnly(db string) *StorageError {
	return NewStorageError(ErrCodeReadOnly, fmt.Sprintf("store %s is bound to a read-only transaction", db), nil).
		WithDetail("db", db)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeUnavailable, message, cause)
}

func StoreFailed(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeStoreFailed, message, cause)
}

func CorruptedData(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeCorruptedData, message, cause)
}

func PublishFailed(index uint32, cause error) *StorageError {
	return NewStorageError(ErrCodePublishFailed, fmt.Sprintf("failed to publish chain item %d", index), cause).
		WithDetail("index", index)
}

func Cancelled(operation string, cause error) *StorageError {
	return NewStorageError(ErrCodeCancelled, operation+" cancelled", cause).
		WithDetail("operation", operation)
}

func ChainFull(remaining uint32, requested int) *StorageError {
	return NewStorageError(ErrCodeChainFull, fmt.Sprintf("chain has room for %d more items, %d requested", remaining, requested), nil).
		WithDetail("remaining", remaining).
		WithDetail("requested", requested)
}

func DiskFull(usagePercent float64, availableBytes uint64) *StorageError {
	return NewStorageError(ErrCodeDiskFull, fmt.Sprintf("disk full: %.2f%% used, %d bytes available", usagePercent, availableBytes), nil).
		WithDetail("usage_percent", usagePercent).
		WithDetail("available_bytes", availableBytes)
}

func DiskThrottled(usagePercent float64) *StorageError {
	return NewStorageError(ErrCodeDiskThrottled, fmt.Sprintf("disk write throttled: %.2f%% used", usagePercent), nil).
		WithDetail("usage_percent", usagePercent)
}

// IsStorageError checks if an error is, or wraps, a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// AsStorageError returns the outermost StorageError in err's chain
func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// GetCode extracts the error code from an error. The outermost StorageError
// in the chain wins.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsHeadMoved reports whether err is, or wraps, a head-moved conflict. A
// RetriesExhausted error wrapping a conflict also counts.
func IsHeadMoved(err error) bool {
	for err != nil {
		var se *StorageError
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Code == ErrCodeHeadMoved {
			return true
		}
		err = se.Cause
	}
	return false
}

// GRPCCode maps any error to a gRPC code
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.GRPCCode()
	}
	return codes.Internal
}
