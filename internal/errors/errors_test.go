package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAs_UntaggedIsInternal(t *testing.T) {
	err := As(stderrors.New("boom"))
	if err.Code != ErrCodeInternalError {
		t.Fatalf("code = %s", err.Code)
	}
	if As(nil) != nil {
		t.Fatal("As(nil) should be nil")
	}

	tagged := New(ErrCodeCardDeclined, "Your card was declined")
	wrapped := fmt.Errorf("confirm: %w", tagged)
	if got := As(wrapped); got != tagged {
		t.Fatalf("As() = %v, want the tagged error", got)
	}
	if !Is(wrapped, ErrCodeCardDeclined) || Is(wrapped, ErrCodeInvalidRequest) {
		t.Fatal("Is() does not follow the wrapped code")
	}
}

func TestKind(t *testing.T) {
	cases := map[ErrorCode]Kind{
		ErrCodeInvalidAmount:             KindValidation,
		ErrCodeUnauthorizedOrder:         KindAuthorization,
		ErrCodeOrderNotFound:             KindNotFound,
		ErrCodeCardDeclined:              KindProcessor,
		ErrCodeProcessorConnectionFailed: KindProcessor,
		ErrCodeAPIKeyMissing:             KindConfiguration,
		ErrCodePollTimeout:               KindTimeout,
		ErrorCode("something_new"):       KindInternal,
	}
	for code, want := range cases {
		if got := code.Kind(); got != want {
			t.Errorf("%s.Kind() = %s, want %s", code, got, want)
		}
	}
}

func TestWriteErr_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithDetail(rec, ErrCodeProcessorUnavailable, "Stripe is unavailable", "processor", "stripe")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != ErrCodeProcessorUnavailable || !body.Error.Retryable {
		t.Fatalf("body = %+v", body.Error)
	}

	back := body.Err()
	if back.Code != ErrCodeProcessorUnavailable || back.Details["processor"] != "stripe" {
		t.Fatalf("Err() = %+v", back)
	}
}

func TestWriteErr_HidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, Wrap(ErrCodeDatabaseError, "Failed to load order", stderrors.New("pq: connection refused")))

	var body map[string]map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if msg := body["error"]["message"]; msg != "Failed to load order" {
		t.Fatalf("message = %v", msg)
	}
}

func TestErrorResponse_EmptyEnvelope(t *testing.T) {
	var r *ErrorResponse
	if r.Err() != nil {
		t.Fatal("nil envelope should give nil")
	}
	if (&ErrorResponse{}).Err() != nil {
		t.Fatal("envelope without a code should give nil")
	}
}
