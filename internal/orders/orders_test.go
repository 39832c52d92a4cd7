package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/config"
)

func TestOrder_NeedsPayment(t *testing.T) {
	paid := time.Now()
	tests := []struct {
		name  string
		order Order
		want  bool
	}{
		{"pending", Order{Status: StatusPending}, true},
		{"failed can be retried", Order{Status: StatusFailed}, true},
		{"processing", Order{Status: StatusProcessing}, false},
		{"completed", Order{Status: StatusCompleted}, false},
		{"cancelled", Order{Status: StatusCancelled}, false},
		{"pending but paid", Order{Status: StatusPending, PaidAt: &paid}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.NeedsPayment(); got != tt.want {
				t.Errorf("NeedsPayment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrder_IsPaid(t *testing.T) {
	paid := time.Now()
	tests := []struct {
		order Order
		want  bool
	}{
		{Order{Status: StatusPending}, false},
		{Order{Status: StatusPending, PaidAt: &paid}, true},
		{Order{Status: StatusProcessing}, true},
		{Order{Status: StatusCompleted}, true},
		{Order{Status: StatusFailed}, false},
	}
	for _, tt := range tests {
		if got := tt.order.IsPaid(); got != tt.want {
			t.Errorf("IsPaid(%s) = %v, want %v", tt.order.Status, got, tt.want)
		}
	}
}

func TestOrder_KeyMatches(t *testing.T) {
	order := Order{Key: "wc_order_abc"}
	if !order.KeyMatches("wc_order_abc") {
		t.Error("expected matching key")
	}
	if order.KeyMatches("wc_order_abd") {
		t.Error("expected mismatching key")
	}
	if order.KeyMatches("") {
		t.Error("empty key must never match")
	}
	if (Order{}).KeyMatches("") {
		t.Error("empty stored key must never match")
	}
}

func TestPaymentRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  PaymentRecord
		wantErr bool
	}{
		{"empty", PaymentRecord{}, false},
		{"failed without ids", PaymentRecord{Status: PaymentStatusFailed}, false},
		{"succeeded complete", PaymentRecord{Status: PaymentStatusSucceeded, PaymentIntentID: "pi_1", ChargeID: "ch_1"}, false},
		{"succeeded without charge", PaymentRecord{Status: PaymentStatusSucceeded, PaymentIntentID: "pi_1"}, true},
		{"succeeded without intent", PaymentRecord{Status: PaymentStatusSucceeded, ChargeID: "ch_1"}, true},
		{"unknown status", PaymentRecord{Status: "pending"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("error %v should wrap ErrInvalidRecord", err)
			}
		})
	}
}

func TestPaymentRecord_MetaRoundTrip(t *testing.T) {
	record := PaymentRecord{
		PaymentIntentID: "pi_1",
		ChargeID:        "ch_1",
		Status:          PaymentStatusSucceeded,
		Amount:          decimal.NewNullDecimal(decimal.RequireFromString("19.99")),
		Currency:        "USD",
		Method:          "Visa",
	}
	meta := record.Meta()
	if len(meta) != 6 {
		t.Fatalf("Meta() has %d keys, want 6", len(meta))
	}
	if meta[MetaPaymentAmount] != "19.99" {
		t.Errorf("amount meta = %q, want 19.99", meta[MetaPaymentAmount])
	}

	back, err := RecordFromMeta(meta)
	if err != nil {
		t.Fatalf("RecordFromMeta() error = %v", err)
	}
	if back.PaymentIntentID != "pi_1" || back.ChargeID != "ch_1" || back.Status != PaymentStatusSucceeded {
		t.Errorf("RecordFromMeta() = %+v", back)
	}
	if !back.Amount.Valid || !back.Amount.Decimal.Equal(record.Amount.Decimal) {
		t.Errorf("amount = %v, want 19.99", back.Amount)
	}

	empty := PaymentRecord{}.Meta()
	if empty[MetaPaymentAmount] != "" {
		t.Errorf("unset amount should be empty, got %q", empty[MetaPaymentAmount])
	}
	if _, err := RecordFromMeta(map[string]string{MetaPaymentAmount: "abc"}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("bad amount error = %v, want ErrInvalidRecord", err)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.GetOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetOrder() error = %v, want ErrNotFound", err)
	}

	order := Order{
		ID:       "1001",
		Key:      "wc_order_key",
		Total:    decimal.RequireFromString("19.99"),
		Currency: "USD",
		Status:   StatusPending,
	}
	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder() error = %v", err)
	}

	got, err := store.GetOrder(ctx, "1001")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on save")
	}
	if !got.Total.Equal(order.Total) {
		t.Errorf("total = %s, want 19.99", got.Total)
	}

	if err := store.AddNote(ctx, "1001", NewNote("Terminal payment started")); err != nil {
		t.Fatalf("AddNote() error = %v", err)
	}
	if err := store.AddNote(ctx, "missing", NewNote("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddNote() on missing order error = %v, want ErrNotFound", err)
	}

	// Mutating a returned copy must not leak into the store.
	got.Notes = append(got.Notes, NewNote("local only"))
	got.Status = StatusCompleted
	again, _ := store.GetOrder(ctx, "1001")
	if len(again.Notes) != 1 {
		t.Errorf("notes = %d, want 1", len(again.Notes))
	}
	if again.Status != StatusPending {
		t.Errorf("status = %s, want pending", again.Status)
	}
}

func TestMemoryStore_RejectsInvalidRecord(t *testing.T) {
	store := NewMemoryStore()
	order := Order{
		ID:      "1002",
		Status:  StatusPending,
		Payment: PaymentRecord{Status: PaymentStatusSucceeded, PaymentIntentID: "pi_1"},
	}
	if err := store.SaveOrder(context.Background(), order); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("SaveOrder() error = %v, want ErrInvalidRecord", err)
	}
	if _, err := store.GetOrder(context.Background(), "1002"); !errors.Is(err, ErrNotFound) {
		t.Error("invalid order must not be persisted")
	}
}

func TestMemoryStore_PreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.SaveOrder(ctx, Order{ID: "1", Status: StatusPending, CreatedAt: created}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveOrder(ctx, Order{ID: "1", Status: StatusFailed}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetOrder(ctx, "1")
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), storageConfig("sqlite"), nil); err == nil {
		t.Error("expected error for unknown backend")
	}
	store, err := Open(context.Background(), storageConfig("memory"), nil)
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T, want *MemoryStore", store)
	}
}

func storageConfig(backend string) config.StorageConfig {
	return config.StorageConfig{Backend: backend}
}

func TestMemoryStore_SaveKeepsNotes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	order := Order{ID: "1001", Status: StatusPending}
	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	if err := store.AddNote(ctx, "1001", NewNote("first")); err != nil {
		t.Fatal(err)
	}

	// Saving a copy loaded before the note was added must not drop it.
	order.Status = StatusFailed
	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetOrder(ctx, "1001")
	if len(got.Notes) != 1 || got.Status != StatusFailed {
		t.Errorf("order = %+v, want 1 note and failed status", got)
	}
}

func TestMemoryStore_SavePayment(t *testing.T) {
	ctx := context.Background()
	paidAt := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	succeeded := PaymentRecord{PaymentIntentID: "pi_1", ChargeID: "ch_1", Status: PaymentStatusSucceeded}

	tests := []struct {
		name        string
		stored      Order
		update      PaymentUpdate
		wantApplied bool
		wantStatus  Status
		wantRecord  PaymentStatus
		wantTxn     string
	}{
		{
			name:        "writes payment fields only",
			stored:      Order{ID: "1", Status: StatusProcessing, PaidAt: &paidAt, TransactionID: "ch_0"},
			update:      PaymentUpdate{Record: succeeded, TransactionID: "ch_1", Captured: true},
			wantApplied: true,
			wantStatus:  StatusProcessing,
			wantRecord:  PaymentStatusSucceeded,
			wantTxn:     "ch_1",
		},
		{
			name:        "empty transaction id keeps the stored one",
			stored:      Order{ID: "1", Status: StatusPending, TransactionID: "ch_0"},
			update:      PaymentUpdate{Record: PaymentRecord{PaymentIntentID: "pi_2"}},
			wantApplied: true,
			wantStatus:  StatusPending,
			wantRecord:  PaymentStatusNone,
			wantTxn:     "ch_0",
		},
		{
			name:        "mark failed",
			stored:      Order{ID: "1", Status: StatusPending},
			update:      PaymentUpdate{Record: PaymentRecord{PaymentIntentID: "pi_1", Status: PaymentStatusFailed}, MarkFailed: true, IfUnpaid: true},
			wantApplied: true,
			wantStatus:  StatusFailed,
			wantRecord:  PaymentStatusFailed,
		},
		{
			name:        "if unpaid skips a completed order",
			stored:      Order{ID: "1", Status: StatusProcessing, PaidAt: &paidAt},
			update:      PaymentUpdate{Record: PaymentRecord{PaymentIntentID: "pi_1", Status: PaymentStatusFailed}, MarkFailed: true, IfUnpaid: true},
			wantApplied: false,
			wantStatus:  StatusProcessing,
			wantRecord:  PaymentStatusNone,
		},
		{
			name:        "if unpaid skips a succeeded record",
			stored:      Order{ID: "1", Status: StatusPending, Payment: succeeded},
			update:      PaymentUpdate{Record: PaymentRecord{PaymentIntentID: "pi_2"}, IfUnpaid: true},
			wantApplied: false,
			wantStatus:  StatusPending,
			wantRecord:  PaymentStatusSucceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			if err := store.SaveOrder(ctx, tt.stored); err != nil {
				t.Fatal(err)
			}
			got, applied, err := store.SavePayment(ctx, "1", tt.update)
			if err != nil {
				t.Fatalf("SavePayment() error = %v", err)
			}
			if applied != tt.wantApplied {
				t.Errorf("applied = %v, want %v", applied, tt.wantApplied)
			}
			if got.Status != tt.wantStatus || got.Payment.Status != tt.wantRecord || got.TransactionID != tt.wantTxn {
				t.Errorf("order = status %s record %q txn %q", got.Status, got.Payment.Status, got.TransactionID)
			}
			if (got.PaidAt != nil) != (tt.stored.PaidAt != nil) {
				t.Errorf("PaidAt = %v, want as stored", got.PaidAt)
			}
			stored, _ := store.GetOrder(ctx, "1")
			if stored.Status != got.Status || stored.Payment != got.Payment {
				t.Errorf("returned order differs from stored order")
			}
		})
	}
}

func TestMemoryStore_SavePaymentErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if _, _, err := store.SavePayment(ctx, "missing", PaymentUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing order error = %v, want ErrNotFound", err)
	}
	if err := store.SaveOrder(ctx, Order{ID: "1", Status: StatusPending}); err != nil {
		t.Fatal(err)
	}
	bad := PaymentUpdate{Record: PaymentRecord{Status: PaymentStatusSucceeded}}
	if _, _, err := store.SavePayment(ctx, "1", bad); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("invalid record error = %v, want ErrInvalidRecord", err)
	}
}
