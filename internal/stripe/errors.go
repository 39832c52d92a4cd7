package stripe

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sony/gobreaker"
	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	apierrors "github.com/CedrosPay/terminal/internal/errors"
)

// Classify maps a processor failure onto the error taxonomy.
//
// Rate-limit and idempotency failures are checked before the generic invalid-request
// class because the API reports both with invalid_request_error semantics.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var tagged *apierrors.Error
	if errors.As(err, &tagged) {
		return tagged
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apierrors.Wrap(apierrors.ErrCodeProcessorUnavailable, "Payment processor temporarily unavailable", err)
	}

	if errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld) {
		return apierrors.Wrap(apierrors.ErrCodeSignatureVerificationFailed, "Webhook signature verification failed", err)
	}

	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		return classifyAPIError(stripeErr, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apierrors.Wrap(apierrors.ErrCodeProcessorConnectionFailed, "Payment processor request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apierrors.Wrap(apierrors.ErrCodeProcessorConnectionFailed, "Could not reach the payment processor", err)
	}

	return apierrors.Wrap(apierrors.ErrCodeProcessorError, "Payment processor error", err)
}

func classifyAPIError(se *stripeapi.Error, err error) *apierrors.Error {
	message := se.Msg
	switch {
	case string(se.Type) == "card_error":
		if message == "" {
			message = "The card was declined"
		}
		out := apierrors.Wrap(apierrors.ErrCodeCardDeclined, message, err)
		if se.DeclineCode != "" {
			out.WithDetail("decline_code", string(se.DeclineCode))
		}
		if se.Code != "" {
			out.WithDetail("processor_code", string(se.Code))
		}
		return out

	case string(se.Code) == "rate_limit" || string(se.Type) == "rate_limit_error" || se.HTTPStatusCode == http.StatusTooManyRequests:
		return apierrors.Wrap(apierrors.ErrCodeRateLimited, orDefault(message, "Too many requests to the payment processor"), err)

	case string(se.Type) == "idempotency_error":
		return apierrors.Wrap(apierrors.ErrCodeIdempotencyConflict, orDefault(message, "Idempotency key reused with different parameters"), err)

	case string(se.Type) == "authentication_error" || se.HTTPStatusCode == http.StatusUnauthorized:
		return apierrors.Wrap(apierrors.ErrCodeAuthenticationFailed, orDefault(message, "Payment processor authentication failed"), err)

	case se.HTTPStatusCode == http.StatusForbidden || string(se.Type) == "more_permissions_required":
		return apierrors.Wrap(apierrors.ErrCodePermissionDenied, orDefault(message, "Permission denied by the payment processor"), err)

	case string(se.Type) == "invalid_request_error":
		out := apierrors.Wrap(apierrors.ErrCodeInvalidRequest, orDefault(message, "Invalid request to the payment processor"), err)
		if se.Param != "" {
			out.WithDetail("param", se.Param)
		}
		if se.HTTPStatusCode == http.StatusNotFound {
			out.WithDetail("not_found", true)
		}
		return out

	case string(se.Type) == "api_connection_error":
		return apierrors.Wrap(apierrors.ErrCodeProcessorConnectionFailed, orDefault(message, "Could not reach the payment processor"), err)
	}

	return apierrors.Wrap(apierrors.ErrCodeProcessorError, orDefault(message, "Payment processor error"), err)
}

// classifyResource reports a missing resource with notFound and defers to Classify otherwise.
func classifyResource(err error, notFound apierrors.ErrorCode) error {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || string(stripeErr.Code) == "resource_missing" {
			return apierrors.Wrap(notFound, orDefault(stripeErr.Msg, "Resource not found"), err)
		}
	}
	return Classify(err)
}

// IsNotFound reports whether err describes a missing processor resource.
func IsNotFound(err error) bool {
	switch apierrors.CodeOf(err) {
	case apierrors.ErrCodePaymentIntentNotFound, apierrors.ErrCodeReaderNotFound:
		return true
	}
	return false
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
