package payment

import "testing"

func TestIntentStatus_Cancelable(t *testing.T) {
	tests := []struct {
		status IntentStatus
		want   bool
	}{
		{StatusRequiresPaymentMethod, true},
		{StatusRequiresConfirmation, true},
		{StatusRequiresAction, false},
		{StatusProcessing, false},
		{StatusRequiresCapture, false},
		{StatusSucceeded, false},
		{StatusCanceled, false},
	}
	for _, tt := range tests {
		if got := tt.status.Cancelable(); got != tt.want {
			t.Errorf("%s.Cancelable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPaymentIntent_Declined(t *testing.T) {
	pi := PaymentIntent{Status: StatusRequiresPaymentMethod}
	if pi.Declined() {
		t.Error("fresh intent without last error must not be declined")
	}
	pi.LastPaymentError = &PaymentError{Message: "Your card was declined."}
	if !pi.Declined() {
		t.Error("intent with last error awaiting a card must be declined")
	}
	pi.Status = StatusCanceled
	if pi.Declined() {
		t.Error("canceled intent must not be reported as declined")
	}
}

func TestPaymentError_SameAttempt(t *testing.T) {
	first := &PaymentError{Code: "card_declined", Message: "Your card has insufficient funds.", ChargeID: "ch_a"}
	tests := []struct {
		name  string
		other *PaymentError
		want  bool
	}{
		{"same charge", &PaymentError{Code: "card_declined", Message: "Your card has insufficient funds.", ChargeID: "ch_a"}, true},
		{"same reason, new charge", &PaymentError{Code: "card_declined", Message: "Your card has insufficient funds.", ChargeID: "ch_b"}, false},
		{"no charge id", &PaymentError{Code: "card_declined", Message: "Your card has insufficient funds."}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := first.SameAttempt(tt.other); got != tt.want {
			t.Errorf("%s: SameAttempt() = %v, want %v", tt.name, got, tt.want)
		}
	}
	var none *PaymentError
	if none.SameAttempt(first) {
		t.Error("nil error must not match")
	}
}

func TestReaderAction_InProgressFor(t *testing.T) {
	var nilAction *ReaderAction
	if nilAction.InProgressFor("pi_1") {
		t.Error("nil action must not be in progress")
	}
	a := &ReaderAction{Type: "process_payment_intent", Status: "in_progress", PaymentIntentID: "pi_1"}
	if !a.InProgressFor("pi_1") {
		t.Error("expected action in progress for pi_1")
	}
	if a.InProgressFor("pi_2") {
		t.Error("action must not match another intent")
	}
}
