package annotate

import (
	"sync"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// Channel delivers annotations for a project. Implementations never block
// and never fail; the engine does not wait on the preview.
type Channel interface {
	Highlight(projectID, selector string, kind domain.ActionKind)
	Clear(projectID string)
}

// Nop discards every annotation.
type Nop struct{}

func (Nop) Highlight(string, string, domain.ActionKind) {}
func (Nop) Clear(string)                                {}

// Recorder keeps every annotation in memory.
type Recorder struct {
	mu       sync.Mutex
	messages map[string][]Message
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{messages: make(map[string][]Message)}
}

// Highlight implements Channel.
func (r *Recorder) Highlight(projectID, selector string, kind domain.ActionKind) {
	r.add(projectID, Highlight(selector, kind))
}

// Clear implements Channel.
func (r *Recorder) Clear(projectID string) {
	r.add(projectID, Clear())
}

func (r *Recorder) add(projectID string, m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[projectID] = append(r.messages[projectID], m)
}

// Messages returns what was sent to a project.
func (r *Recorder) Messages(projectID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages[projectID]...)
}

var (
	_ Channel = Nop{}
	_ Channel = (*Recorder)(nil)
	_ Channel = (*Hub)(nil)
)
