// Package errors provides unified error handling for the capture-to-task pipeline.
// Every stage failure is an *AppError carrying a Code that maps onto gRPC status codes
// and HTTP statuses for the local API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Code classifies an AppError.
type Code int

const (
	Unknown Code = iota
	Internal
	InvalidArgument
	Unauthenticated
	Busy
	Unavailable
	Cancelled
	PermissionDenied
	DeviceUnavailable
	EncodingUnsupported
	EmptyRecording
	MaxDurationReached
	TranscriptionFailed
	EmptyTranscript
	ExtractionFailed
	MalformedExtraction
	IndexOutOfRange
	PersistenceWriteFailed
)

var codeNames = [...]string{
	Unknown:                "UNKNOWN",
	Internal:               "INTERNAL",
	InvalidArgument:        "INVALID_ARGUMENT",
	Unauthenticated:        "UNAUTHENTICATED",
	Busy:                   "BUSY",
	Unavailable:            "UNAVAILABLE",
	Cancelled:              "CANCELLED",
	PermissionDenied:       "PERMISSION_DENIED",
	DeviceUnavailable:      "DEVICE_UNAVAILABLE",
	EncodingUnsupported:    "ENCODING_UNSUPPORTED",
	EmptyRecording:         "EMPTY_RECORDING",
	MaxDurationReached:     "MAX_DURATION_REACHED",
	TranscriptionFailed:    "TRANSCRIPTION_FAILED",
	EmptyTranscript:        "EMPTY_TRANSCRIPT",
	ExtractionFailed:       "EXTRACTION_FAILED",
	MalformedExtraction:    "MALFORMED_EXTRACTION",
	IndexOutOfRange:        "INDEX_OUT_OF_RANGE",
	PersistenceWriteFailed: "PERSISTENCE_WRITE_FAILED",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return codeNames[Unknown]
	}
	return codeNames[c]
}

// grpcCodeMap maps pipeline codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:                codes.Unknown,
	Internal:               codes.Internal,
	InvalidArgument:        codes.InvalidArgument,
	Unauthenticated:        codes.Unauthenticated,
	Busy:                   codes.Aborted,
	Unavailable:            codes.Unavailable,
	Cancelled:              codes.Canceled,
	PermissionDenied:       codes.PermissionDenied,
	DeviceUnavailable:      codes.FailedPrecondition,
	EncodingUnsupported:    codes.Unimplemented,
	EmptyRecording:         codes.InvalidArgument,
	MaxDurationReached:     codes.OK,
	TranscriptionFailed:    codes.Internal,
	EmptyTranscript:        codes.InvalidArgument,
	ExtractionFailed:       codes.Internal,
	MalformedExtraction:    codes.DataLoss,
	IndexOutOfRange:        codes.OutOfRange,
	PersistenceWriteFailed: codes.Internal,
}

// httpCodeMap maps gRPC codes to HTTP statuses for the local API.
var httpCodeMap = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.Canceled:           499,
	codes.Unknown:            http.StatusInternalServerError,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.OutOfRange:         http.StatusNotFound,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
	codes.Aborted:            http.StatusConflict,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DataLoss:           http.StatusBadGateway,
	codes.Internal:           http.StatusInternalServerError,
}

// AppError is the base error type with a classification code and metadata.
// Status holds the remote HTTP status for TranscriptionFailed and ExtractionFailed.
type AppError struct {
	Code     Code
	Message  string
	Status   int
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Status != 0 {
		s += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the status the local API answers with.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpCodeMap[e.GRPCCode()]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns a gRPC status carrying the code name and metadata as a Struct detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	fields := map[string]any{"code": e.Code.String()}
	if e.Status != 0 {
		fields["status"] = e.Status
	}
	for k, v := range e.Metadata {
		fields[k] = v
	}
	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return st
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Remote builds a TranscriptionFailed or ExtractionFailed error from an HTTP failure.
func Remote(code Code, httpStatus int, msg string, cause error) *AppError {
	return &AppError{Code: code, Message: msg, Status: httpStatus, Cause: cause}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or Unknown.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error has a specific error code anywhere in its chain.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsRemoteFault reports whether err is a failure of the remote service itself
// (transport error or 5xx), which is what trips the circuit breaker.
func IsRemoteFault(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return err != nil
	}
	switch appErr.Code {
	case TranscriptionFailed, ExtractionFailed:
		return appErr.Status == 0 || appErr.Status >= http.StatusInternalServerError
	case Unavailable:
		return true
	default:
		return false
	}
}

// FromStatus converts a gRPC status back into an AppError (best effort).
func FromStatus(st *status.Status) *AppError {
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		appErr := &AppError{Code: parseCode(s.Fields["code"].GetStringValue()), Message: st.Message()}
		for k, v := range s.Fields {
			switch k {
			case "code":
			case "status":
				appErr.Status = int(v.GetNumberValue())
			default:
				appErr.WithMetadata(k, v.GetStringValue())
			}
		}
		return appErr
	}
	return &AppError{Code: Unknown, Message: st.Message()}
}

func parseCode(name string) Code {
	for i, n := range codeNames {
		if n == name {
			return Code(i)
		}
	}
	return Unknown
}
