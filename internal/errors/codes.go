package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for index operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument   ErrorCode = 1000
	ErrCodeConfiguration     ErrorCode = 1001
	ErrCodeOutOfRange        ErrorCode = 1002
	ErrCodeRevisionNotFound  ErrorCode = 1003
	ErrCodeTableNotFound     ErrorCode = 1004
	ErrCodeConcurrentCommit  ErrorCode = 1005
	ErrCodeResourceExhausted ErrorCode = 1006

	// Server errors (5xx equivalent)
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeUnavailable       ErrorCode = 2001
	ErrCodeInconsistentState ErrorCode = 2002
	ErrCodeCorruptedData     ErrorCode = 2003
	ErrCodeLogFailed         ErrorCode = 2004
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                "OK",
	ErrCodeInvalidArgument:   "InvalidArgument",
	ErrCodeConfiguration:     "ConfigurationError",
	ErrCodeOutOfRange:        "OutOfRangeError",
	ErrCodeRevisionNotFound:  "RevisionNotFoundError",
	ErrCodeTableNotFound:     "TableNotFound",
	ErrCodeConcurrentCommit:  "ConcurrentCommitError",
	ErrCodeResourceExhausted: "ResourceExhausted",
	ErrCodeInternal:          "Internal",
	ErrCodeUnavailable:       "Unavailable",
	ErrCodeInconsistentState: "InconsistentStateError",
	ErrCodeCorruptedData:     "CorruptedData",
	ErrCodeLogFailed:         "LogFailed",
}

// String returns the symbolic name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// IndexError represents a structured error with code and context
type IndexError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *IndexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts IndexError to gRPC status
func (e *IndexError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *IndexError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeConfiguration:
		return codes.InvalidArgument
	case ErrCodeOutOfRange:
		return codes.OutOfRange
	case ErrCodeRevisionNotFound, ErrCodeTableNotFound:
		return codes.NotFound
	case ErrCodeConcurrentCommit:
		return codes.Aborted
	case ErrCodeResourceExhausted:
		return codes.ResourceExhausted
	case ErrCodeInconsistentState:
		return codes.FailedPrecondition
	case ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatus maps the error code to an HTTP status code
func (e *IndexError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeConfiguration, ErrCodeOutOfRange:
		return http.StatusBadRequest
	case ErrCodeRevisionNotFound, ErrCodeTableNotFound:
		return http.StatusNotFound
	case ErrCodeConcurrentCommit:
		return http.StatusConflict
	case ErrCodeResourceExhausted:
		return http.StatusTooManyRequests
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewIndexError creates a new IndexError
func NewIndexError(code ErrorCode, message string, cause error) *IndexError {
	return &IndexError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *IndexError) WithDetail(key string, value interface{}) *IndexError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeInvalidArgument, message, cause)
}

func Configuration(message string) *IndexError {
	return NewIndexError(ErrCodeConfiguration, message, nil)
}

func OutOfRange(column string, value interface{}) *IndexError {
	return NewIndexError(ErrCodeOutOfRange, fmt.Sprintf("value %v of column %q is outside the revision range", value, column), nil).
		WithDetail("column", column).
		WithDetail("value", value)
}

func RevisionNotFound(tableID string, revisionID int64) *IndexError {
	return NewIndexError(ErrCodeRevisionNotFound, fmt.Sprintf("revision %d not found for table %s", revisionID, tableID), nil).
		WithDetail("table_id", tableID).
		WithDetail("revision_id", revisionID)
}

func TableNotFound(tableID string) *IndexError {
	return NewIndexError(ErrCodeTableNotFound, fmt.Sprintf("table not found: %s", tableID), nil).
		WithDetail("table_id", tableID)
}

func VersionNotCommitted(tableID string, version, latest int64) *IndexError {
	return NewIndexError(ErrCodeInvalidArgument, fmt.Sprintf("version %d of table %s is not committed, latest is %d", version, tableID, latest), nil).
		WithDetail("table_id", tableID).
		WithDetail("version", version).
		WithDetail("latest_version", latest)
}

func ConcurrentCommit(tableID string, expected, actual int64) *IndexError {
	return NewIndexError(ErrCodeConcurrentCommit, fmt.Sprintf("concurrent commit on table %s: expected version %d, log is at %d", tableID, expected, actual), nil).
		WithDetail("table_id", tableID).
		WithDetail("expected_version", expected).
		WithDetail("actual_version", actual)
}

func InconsistentState(message string) *IndexError {
	return NewIndexError(ErrCodeInconsistentState, message, nil)
}

func InternalError(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeUnavailable, message, cause)
}

func CorruptedData(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeCorruptedData, message, cause)
}

func LogFailed(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeLogFailed, message, cause)
}

func ResourceExhausted(resource string, current, limit int) *IndexError {
	return NewIndexError(ErrCodeResourceExhausted, fmt.Sprintf("%s exhausted: %d/%d", resource, current, limit), nil).
		WithDetail("resource", resource).
		WithDetail("current", current).
		WithDetail("limit", limit)
}

// AsIndexError finds the first IndexError in err's chain
func AsIndexError(err error) (*IndexError, bool) {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// IsIndexError checks if an error is or wraps an IndexError
func IsIndexError(err error) bool {
	_, ok := AsIndexError(err)
	return ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	if ie, ok := AsIndexError(err); ok {
		return ie.Code
	}
	return ErrCodeInternal
}

func IsConfiguration(err error) bool     { return GetCode(err) == ErrCodeConfiguration }
func IsOutOfRange(err error) bool        { return GetCode(err) == ErrCodeOutOfRange }
func IsConcurrentCommit(err error) bool  { return GetCode(err) == ErrCodeConcurrentCommit }
func IsInconsistentState(err error) bool { return GetCode(err) == ErrCodeInconsistentState }
func IsRevisionNotFound(err error) bool  { return GetCode(err) == ErrCodeRevisionNotFound }
func IsTableNotFound(err error) bool     { return GetCode(err) == ErrCodeTableNotFound }
