package ingest

import (
	"context"
	"time"
)

// Code is the lifecycle event code delivered to sinks
type Code int

const (
	CodeRunning     Code = 100
	CodeFinished    Code = 200
	CodeError       Code = 300
	CodeUnavailable Code = 301
)

// State is the sync invocation state
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateFinished    State = "finished"
	StateError       State = "error"
	StateUnavailable State = "unavailable"
	StateUpToDate    State = "up_to_date"
)

// Code returns the event code for the state.
// UpToDate shares the Finished code
func (s State) Code() Code {
	switch s {
	case StateRunning:
		return CodeRunning
	case StateFinished, StateUpToDate:
		return CodeFinished
	case StateError:
		return CodeError
	case StateUnavailable:
		return CodeUnavailable
	default:
		return 0
	}
}

// Terminal returns true if the state ends the invocation
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateUpToDate, StateError, StateUnavailable:
		return true
	default:
		return false
	}
}

// Event is a single sync lifecycle event
type Event struct {
	Time    time.Time `json:"time"`
	SyncID  string    `json:"sync_id"`
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	Code    Code      `json:"code"`
}

// Sink receives the lifecycle events of a sync invocation.
// Delivery is best effort, so sinks never report errors back
type Sink interface {
	Send(context.Context, Event)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(context.Context, Event)

func (f SinkFunc) Send(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// MultiSink delivers every event to all the sinks, in order
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Send(ctx, ev)
		}
	}
}

// Result is the terminal result of a sync invocation
type Result struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Err        error     `json:"-"`
	SyncID     string    `json:"sync_id"`
	State      State     `json:"state"`
	Events     []Event   `json:"events"`
	Committed  int       `json:"committed"` // committed provider rates, excluding the base rate
	Forced     bool      `json:"forced"`
	Empty      bool      `json:"empty"` // the provider returned no rates
}

// Code returns the terminal event code
func (r Result) Code() Code {
	return r.State.Code()
}
