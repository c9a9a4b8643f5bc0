// Package effects is the live channel for observable output.
//
// A Sink is called synchronously at the moment an effect is produced. Nothing
// in the dispatch path collects effects to hand them over later; consumers
// that need a batch (tests, replays) build it themselves from Emit calls.
package effects

import (
	"sync"
	"time"
)

// Kind classifies an effect.
type Kind string

const (
	KindDisplay Kind = "display"
	KindStdout  Kind = "stdout"
	KindStderr  Kind = "stderr"
	KindLog     Kind = "log"
)

type Effect struct {
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text"`
	Source     string    `json:"source,omitempty"`
	PipelineID string    `json:"pipelineId,omitempty"`
	Time       time.Time `json:"time"`
}

// Sink receives effects as they happen.
type Sink interface {
	Emit(e Effect)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Effect)

func (f SinkFunc) Emit(e Effect) { f(e) }

// Discard drops every effect.
var Discard Sink = SinkFunc(func(Effect) {})

// Multi fans an effect out to every sink in order.
func Multi(sinks ...Sink) Sink {
	cp := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			cp = append(cp, s)
		}
	}
	return SinkFunc(func(e Effect) {
		for _, s := range cp {
			s.Emit(e)
		}
	})
}

// Recorder keeps every effect it sees. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	effects []Effect
	notify  func(Effect)
}

// NewRecorder returns a Recorder. notify, if set, is called after each
// effect is stored.
func NewRecorder(notify func(Effect)) *Recorder {
	return &Recorder{notify: notify}
}

func (r *Recorder) Emit(e Effect) {
	r.mu.Lock()
	r.effects = append(r.effects, e)
	r.mu.Unlock()
	if r.notify != nil {
		r.notify(e)
	}
}

// Effects returns a copy of what has been recorded so far.
func (r *Recorder) Effects() []Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Effect, len(r.effects))
	copy(out, r.effects)
	return out
}

// Texts returns the text of every recorded effect.
func (r *Recorder) Texts() []string {
	es := r.Effects()
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Text
	}
	return out
}

// Len is the number of recorded effects.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.effects)
}
