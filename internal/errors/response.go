package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON envelope every failed request is answered with:
//
//	{"error": {"code": "card_declined", "message": "...", "retryable": false}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the body of an ErrorResponse.
type ErrorDetail struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Response renders e as a wire envelope. The wrapped cause is not exposed.
func (e *Error) Response() ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Code.IsRetryable(),
		Details:   e.Details,
	}}
}

// Err rebuilds the tagged error a server sent. It returns nil for an empty envelope.
func (r *ErrorResponse) Err() *Error {
	if r == nil || r.Error.Code == "" {
		return nil
	}
	out := New(r.Error.Code, r.Error.Message)
	for k, v := range r.Error.Details {
		out.WithDetail(k, v)
	}
	return out
}

// WriteErr answers the request with err. Untagged errors go out as internal_error.
func WriteErr(w http.ResponseWriter, err error) {
	apiErr := As(err)
	if apiErr == nil {
		apiErr = New(ErrCodeInternalError, "Unknown error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(apiErr.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(apiErr.Response())
}

// WriteError writes code and message with optional details.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]interface{}) {
	WriteErr(w, &Error{Code: code, Message: message, Details: details})
}

func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteErr(w, New(code, message))
}

func WriteErrorWithDetail(w http.ResponseWriter, code ErrorCode, message string, key string, value interface{}) {
	WriteErr(w, New(code, message).WithDetail(key, value))
}
