package errors

// ErrorCode represents a machine-readable error identifier for client-side error handling.
type ErrorCode string

// Validation Errors (Request input validation, always user-correctable)
const (
	ErrCodeMissingField        ErrorCode = "missing_field"
	ErrCodeInvalidField        ErrorCode = "invalid_field"
	ErrCodeInvalidAmount       ErrorCode = "invalid_amount"
	ErrCodeMissingParams       ErrorCode = "missing_params"
	ErrCodeUnsupportedCurrency ErrorCode = "unsupported_currency"
	ErrCodeReaderNotConnected  ErrorCode = "reader_not_connected"
	ErrCodeReaderOffline       ErrorCode = "reader_offline"
	ErrCodeTestModeOnly        ErrorCode = "test_mode_only"
)

// Authorization Errors (order key mismatch, order no longer payable, API key)
const (
	ErrCodeUnauthorizedOrder  ErrorCode = "unauthorized_order"
	ErrCodeUnauthorizedAPIKey ErrorCode = "unauthorized_api_key"
)

// Resource Errors (order, payment intent or reader absent)
const (
	ErrCodeOrderNotFound         ErrorCode = "order_not_found"
	ErrCodePaymentIntentNotFound ErrorCode = "payment_intent_not_found"
	ErrCodeReaderNotFound        ErrorCode = "reader_not_found"
)

// Processor Errors (classified from payment processor API failures)
const (
	ErrCodeCardDeclined                ErrorCode = "card_declined"
	ErrCodeInvalidRequest              ErrorCode = "invalid_request"
	ErrCodeAuthenticationFailed        ErrorCode = "authentication_failed"
	ErrCodeProcessorConnectionFailed   ErrorCode = "processor_connection_failed"
	ErrCodePermissionDenied            ErrorCode = "permission_denied"
	ErrCodeRateLimited                 ErrorCode = "rate_limited"
	ErrCodeIdempotencyConflict         ErrorCode = "idempotency_conflict"
	ErrCodeSignatureVerificationFailed ErrorCode = "signature_verification_failed"
	ErrCodeProcessorError              ErrorCode = "processor_error"
	ErrCodeProcessorUnavailable        ErrorCode = "processor_unavailable"
)

// Configuration Errors
const (
	ErrCodeWebhookSecretMissing ErrorCode = "webhook_secret_missing"
	ErrCodeAPIKeyMissing        ErrorCode = "api_key_missing"
	ErrCodeConfigError          ErrorCode = "config_error"
)

// Client-side and internal errors
const (
	ErrCodePollTimeout   ErrorCode = "poll_timeout"
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
)

// Kind groups error codes into the coarse categories the payment UI reacts to.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindProcessor     Kind = "processor"
	KindConfiguration Kind = "configuration"
	KindTimeout       Kind = "timeout"
	KindInternal      Kind = "internal"
)

// Kind returns the category of the error code.
func (e ErrorCode) Kind() Kind {
	switch e {
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeMissingParams,
		ErrCodeUnsupportedCurrency,
		ErrCodeReaderNotConnected,
		ErrCodeReaderOffline,
		ErrCodeTestModeOnly:
		return KindValidation
	case ErrCodeUnauthorizedOrder, ErrCodeUnauthorizedAPIKey:
		return KindAuthorization
	case ErrCodeOrderNotFound, ErrCodePaymentIntentNotFound, ErrCodeReaderNotFound:
		return KindNotFound
	case ErrCodeCardDeclined,
		ErrCodeInvalidRequest,
		ErrCodeAuthenticationFailed,
		ErrCodeProcessorConnectionFailed,
		ErrCodePermissionDenied,
		ErrCodeRateLimited,
		ErrCodeIdempotencyConflict,
		ErrCodeSignatureVerificationFailed,
		ErrCodeProcessorError,
		ErrCodeProcessorUnavailable:
		return KindProcessor
	case ErrCodeWebhookSecretMissing, ErrCodeAPIKeyMissing, ErrCodeConfigError:
		return KindConfiguration
	case ErrCodePollTimeout:
		return KindTimeout
	default:
		return KindInternal
	}
}

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient processor/network issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeProcessorConnectionFailed,
		ErrCodeProcessorUnavailable,
		ErrCodeRateLimited,
		ErrCodeProcessorError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeMissingParams,
		ErrCodeUnsupportedCurrency,
		ErrCodeReaderNotConnected,
		ErrCodeReaderOffline,
		ErrCodeTestModeOnly,
		ErrCodeInvalidRequest,
		ErrCodeSignatureVerificationFailed:
		return 400

	// 401 Unauthorized - Processor rejected our credentials
	case ErrCodeAuthenticationFailed:
		return 401

	// 402 Payment Required - Card declined on the reader
	case ErrCodeCardDeclined:
		return 402

	// 403 Forbidden - Authorization failures
	case ErrCodeUnauthorizedOrder,
		ErrCodeUnauthorizedAPIKey,
		ErrCodePermissionDenied:
		return 403

	// 404 Not Found
	case ErrCodeOrderNotFound,
		ErrCodePaymentIntentNotFound,
		ErrCodeReaderNotFound:
		return 404

	// 408 Request Timeout - client gave up polling
	case ErrCodePollTimeout:
		return 408

	// 409 Conflict - idempotency key reused with different parameters
	case ErrCodeIdempotencyConflict:
		return 409

	// 429 Too Many Requests
	case ErrCodeRateLimited:
		return 429

	// 502 Bad Gateway - processor unreachable
	case ErrCodeProcessorConnectionFailed:
		return 502

	// 503 Service Unavailable - circuit open
	case ErrCodeProcessorUnavailable:
		return 503

	// 500 Internal Server Error - system, configuration and unknown processor errors
	default:
		return 500
	}
}
