package lifecycle

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestManager_ClosesInReverseOrder(t *testing.T) {
	m := NewManager(zerolog.Nop())
	var order []string
	for _, name := range []string{"store", "breaker", "callbacks"} {
		name := name
		m.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := strings.Join(order, ","); got != "callbacks,breaker,store" {
		t.Errorf("close order = %s", got)
	}
}

func TestManager_JoinsErrorsAndClosesAll(t *testing.T) {
	m := NewManager(zerolog.Nop())
	errStore := errors.New("store busy")
	closed := 0
	m.RegisterFunc("store", func() error { closed++; return errStore })
	m.RegisterFunc("cache", func() error { closed++; return nil })
	m.RegisterFunc("http", func() error { closed++; return errors.New("timeout") })

	err := m.Close()
	if closed != 3 {
		t.Errorf("closed = %d, want 3", closed)
	}
	if !errors.Is(err, errStore) {
		t.Errorf("Close() error = %v, want it to wrap the store error", err)
	}
	if !strings.Contains(err.Error(), "close http") {
		t.Errorf("Close() error = %v, want the http error too", err)
	}
}

func TestManager_CloseOnce(t *testing.T) {
	m := NewManager(zerolog.Nop())
	calls := 0
	m.RegisterFunc("store", func() error { calls++; return nil })

	_ = m.Close()
	_ = m.Close()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	late := 0
	m.RegisterFunc("late", func() error { late++; return nil })
	if late != 1 {
		t.Errorf("late registration should close immediately, calls = %d", late)
	}
}
