package metrics

import "time"

// StoreTimer times order store operations against one backend. The zero value
// records nothing.
type StoreTimer struct {
	m       *Metrics
	backend string
}

// StoreTimer returns a timer labelled with backend. It is safe to call on a nil *Metrics.
func (m *Metrics) StoreTimer(backend string) StoreTimer {
	return StoreTimer{m: m, backend: backend}
}

// Start begins timing op. Call the returned func when the operation returns:
//
//	defer s.timer.Start("get_order")()
func (t StoreTimer) Start(op string) func() {
	if t.m == nil {
		return func() {}
	}
	began := time.Now()
	return func() {
		t.m.ObserveDBQuery(op, t.backend, time.Since(began))
	}
}
