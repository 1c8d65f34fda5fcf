package events

import (
	"context"
	"sync"
)

// Recorded is one captured emission.
type Recorded struct {
	Room    string
	Event   string
	Payload any
}

// Recorder is an in-memory Emitter that keeps every event, for tests and
// for running the engines without a gateway.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	err    error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent emissions return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Emit(_ context.Context, room, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Room: room, Event: event, Payload: payload})
	return r.err
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Find returns the recorded events matching room and event; an empty room
// matches any room.
func (r *Recorder) Find(room, event string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Event == event && (room == "" || e.Room == room) {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
