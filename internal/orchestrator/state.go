package orchestrator

import (
	"errors"
	"fmt"
)

// State is a step of the reader payment session.
type State string

const (
	StateIdle              State = "idle"
	StateServiceValidating State = "service_validating"
	StateServiceError      State = "service_error"
	StateReadersLoading    State = "readers_loading"
	StateReadersError      State = "readers_error"
	StateNoReader          State = "no_reader_connected"
	StateReaderConnected   State = "reader_connected"
	StateAwaitingCard      State = "awaiting_card"
	StateProcessing        State = "processing"
	StateSucceeded         State = "succeeded"
	StateDeclined          State = "declined"
	StateRetrying          State = "retrying"
	StateFailed            State = "failed"
	StateTimedOut          State = "timed_out"
	StateCanceled          State = "canceled"
)

// ErrInvalidTransition is returned when an operation is not allowed in the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateIdle:              {StateServiceValidating},
	StateServiceValidating: {StateReadersLoading, StateServiceError},
	StateReadersLoading:    {StateReadersError, StateNoReader, StateReaderConnected},
	StateNoReader:          {StateReaderConnected},
	StateReaderConnected:   {StateReaderConnected, StateNoReader, StateAwaitingCard, StateRetrying, StateSucceeded, StateFailed},
	StateAwaitingCard:      {StateProcessing, StateSucceeded, StateDeclined, StateFailed, StateTimedOut, StateCanceled},
	StateProcessing:        {StateSucceeded, StateDeclined, StateFailed, StateTimedOut, StateCanceled},
	StateDeclined:          {StateRetrying, StateSucceeded, StateFailed, StateCanceled, StateNoReader},
	StateRetrying:          {StateAwaitingCard, StateDeclined, StateFailed},
	StateFailed:            {StateReaderConnected},
	StateTimedOut:          {StateReaderConnected},
	// service_error, readers_error, succeeded and canceled only leave through Init.
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether a payment attempt is in flight on the reader.
func (s State) Active() bool {
	switch s {
	case StateAwaitingCard, StateProcessing, StateRetrying:
		return true
	}
	return false
}

// Terminal reports whether the session is over until the next Init.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateCanceled, StateServiceError, StateReadersError:
		return true
	}
	return false
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
