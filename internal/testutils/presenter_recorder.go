package testutils

import (
	"sync"

	"github.com/srg/flipble/pkg/flipper"
)

// PresenterEvent is one call received by a RecordingPresenter.
// Log calls set Tag and Text; connection updates set State and Name.
type PresenterEvent struct {
	Tag   flipper.Tag
	Text  string
	State *bool
	Name  string
}

// RecordingPresenter records presenter calls in arrival order
type RecordingPresenter struct {
	mu     sync.Mutex
	events []PresenterEvent
}

func (r *RecordingPresenter) Log(tag flipper.Tag, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, PresenterEvent{Tag: tag, Text: text})
}

func (r *RecordingPresenter) ConnectionChanged(connected bool, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, PresenterEvent{State: &connected, Name: name})
}

// Events returns a copy of every recorded call
func (r *RecordingPresenter) Events() []PresenterEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PresenterEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Messages returns the texts logged with tag
func (r *RecordingPresenter) Messages(tag flipper.Tag) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.State == nil && e.Tag == tag {
			out = append(out, e.Text)
		}
	}
	return out
}

// States returns the connection updates as booleans
func (r *RecordingPresenter) States() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bool
	for _, e := range r.events {
		if e.State != nil {
			out = append(out, *e.State)
		}
	}
	return out
}

// Reset forgets all recorded calls
func (r *RecordingPresenter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
