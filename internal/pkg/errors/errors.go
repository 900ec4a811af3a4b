// Package errors provides custom error types and error handling utilities.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Client errors (4xx).
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeAlreadyExists  = "ALREADY_EXISTS"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInvalidRequest = "INVALID_REQUEST"

	// Server errors (5xx).
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
	CodeCancelled   = "CANCELLED"

	// Domain errors.
	CodeScopeUnresolved       = "SCOPE_UNRESOLVED"
	CodeCollectionMissing     = "COLLECTION_MISSING"
	CodeEmbeddingUnavailable  = "EMBEDDING_UNAVAILABLE"
	CodeEmbeddingUnauthorized = "EMBEDDING_UNAUTHORIZED"
	CodeSparseUnavailable     = "SPARSE_UNAVAILABLE"
	CodeRerankerUnavailable   = "RERANKER_UNAVAILABLE"
	CodeStoreConflict         = "STORE_CONFLICT"
	CodePartialIndex          = "PARTIAL_INDEX"
	CodeVectorStore           = "VECTOR_STORE_ERROR"
	CodeRegistry              = "REGISTRY_ERROR"
	CodeCrawl                 = "CRAWL_ERROR"
	CodeLLM                   = "LLM_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound, CodeCollectionMissing:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeStoreConflict:
		return http.StatusConflict
	case CodeUnauthorized, CodeEmbeddingUnauthorized:
		return http.StatusUnauthorized
	case CodeUnavailable, CodeEmbeddingUnavailable, CodeSparseUnavailable, CodeRerankerUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// InvalidRequestError creates an invalid request error.
func InvalidRequestError(message string) *AppError {
	return New(CodeInvalidRequest, message)
}

// EmbeddingUnavailableError marks the dense embedding service unreachable.
// Fatal to the owning operation.
func EmbeddingUnavailableError(err error) *AppError {
	return Wrap(CodeEmbeddingUnavailable, "dense embedding service unavailable", err)
}

// EmbeddingUnauthorizedError marks an authentication failure against an
// embedding service, distinct from transport failures.
func EmbeddingUnauthorizedError(service string) *AppError {
	return New(CodeEmbeddingUnauthorized, fmt.Sprintf("%s service rejected credentials", service))
}

// CollectionMissingError indicates a dataset with no registered collection.
func CollectionMissingError(project, dataset string) *AppError {
	return New(CodeCollectionMissing, fmt.Sprintf("no collection registered for %s/%s", project, dataset)).
		WithDetail("project", project).
		WithDetail("dataset", dataset)
}

// StoreConflictError indicates a unique-constraint violation.
func StoreConflictError(message string, err error) *AppError {
	return Wrap(CodeStoreConflict, message, err)
}

// PartialIndexError indicates one or more batches failed after retry.
func PartialIndexError(message string, err error) *AppError {
	return Wrap(CodePartialIndex, message, err)
}

// CancelledError marks a caller-initiated cancellation.
func CancelledError(operation string) *AppError {
	return New(CodeCancelled, fmt.Sprintf("%s cancelled", operation))
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// VectorStoreError creates a vector store error.
func VectorStoreError(message string, err error) *AppError {
	return Wrap(CodeVectorStore, message, err)
}

// RegistryError creates a registry error.
func RegistryError(message string, err error) *AppError {
	return Wrap(CodeRegistry, message, err)
}

// CrawlError creates a crawl error.
func CrawlError(message string, err error) *AppError {
	return Wrap(CodeCrawl, message, err)
}

// LLMError creates an LLM synthesis error.
func LLMError(message string, err error) *AppError {
	return Wrap(CodeLLM, message, err)
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsCancelled checks if error is a cancellation.
func IsCancelled(err error) bool {
	return HasCode(err, CodeCancelled)
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - headers already sent
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with proper sanitization.
// If err is an *AppError, it uses the code and status from the error.
// For other errors, it sanitizes the message to prevent leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}
