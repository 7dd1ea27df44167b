package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/portfolio-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents quote provider errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryBusiness represents ledger rule violations
	CategoryBusiness ErrorCategory = "business"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Error codes surfaced to API callers
const (
	CodeInsufficientFunds      = "INSUFFICIENT_FUNDS"
	CodeInsufficientShares     = "INSUFFICIENT_SHARES"
	CodeNoSuchHolding          = "NO_SUCH_HOLDING"
	CodeNoPortfolio            = "NO_PORTFOLIO"
	CodeQuoteUnavailable       = "QUOTE_UNAVAILABLE"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodePersistence            = "PERSISTENCE_ERROR"
	CodeInvalidParameter       = "INVALID_PARAMETER"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeInternal               = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Ledger errors

// NewInsufficientFundsError is returned when a buy costs more than the cash balance
func NewInsufficientFundsError(required, available decimal.Decimal) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBusiness,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeInsufficientFunds,
		Message:    fmt.Sprintf("insufficient funds: need %s, have %s", required.StringFixed(2), available.StringFixed(2)),
		Details: map[string]interface{}{
			"required":  required.StringFixed(2),
			"available": available.StringFixed(2),
		},
	}
}

// NewInsufficientSharesError is returned when a sell exceeds the held quantity
func NewInsufficientSharesError(symbol string, requested, held decimal.Decimal) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBusiness,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeInsufficientShares,
		Message:    fmt.Sprintf("insufficient shares of %s: requested %s, held %s", symbol, requested, held),
		Details: map[string]interface{}{
			"symbol":    symbol,
			"requested": requested.String(),
			"held":      held.String(),
		},
	}
}

// NewNoSuchHoldingError is returned when selling a symbol the user does not hold
func NewNoSuchHoldingError(symbol string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNoSuchHolding,
		Message:    fmt.Sprintf("no holding for symbol %s", symbol),
		Details: map[string]interface{}{
			"symbol": symbol,
		},
	}
}

// NewNoPortfolioError is returned when a user has no account
func NewNoPortfolioError(userID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNoPortfolio,
		Message:    "no portfolio for user",
		Details: map[string]interface{}{
			"userId": userID,
		},
	}
}

// NewConcurrentModificationError signals a lost optimistic-concurrency race
func NewConcurrentModificationError(userID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeConcurrentModification,
		Message:    "account was modified concurrently, retry the request",
		Cause:      cause,
		Details: map[string]interface{}{
			"userId": userID,
		},
	}
}

// User Input Errors (4xx)

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// NewPersistenceError wraps a storage failure
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodePersistence,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Quote Provider Errors

// NewQuoteUnavailableError is returned when no usable quote exists for a symbol
func NewQuoteUnavailableError(symbol string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeQuoteUnavailable,
		Message:    fmt.Sprintf("quote unavailable for %s", symbol),
		Cause:      cause,
		Details: map[string]interface{}{
			"symbol": symbol,
		},
	}
}

// As returns the first CategorizedError in err's chain
func As(err error) (*CategorizedError, bool) {
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code string) bool {
	catErr, ok := As(err)
	return ok && catErr.Code == code
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := As(err); ok {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	status := http.StatusInternalServerError
	category := CategorySystem

	switch err.Code {
	case CodeInvalidParameter:
		status, category = http.StatusBadRequest, CategoryValidation
	case CodeInsufficientFunds, CodeInsufficientShares:
		status, category = http.StatusUnprocessableEntity, CategoryBusiness
	case CodeNoSuchHolding, CodeNoPortfolio:
		status, category = http.StatusNotFound, CategoryNotFound
	case CodeConcurrentModification:
		status, category = http.StatusConflict, CategoryConflict
	case CodeQuoteUnavailable:
		status, category = http.StatusServiceUnavailable, CategoryProvider
	case CodeUnauthorized:
		status, category = http.StatusUnauthorized, CategoryAuthorization
	}

	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable.
// Ledger rule violations are never retryable.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryConflict:
		return catErr.Code == CodeConcurrentModification
	case CategoryProvider:
		return true
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
