package annotate

import (
	"sync"

	"github.com/xiaot623/gogo/autopilot/internal/logging"
)

// Overlay is the highlight currently drawn on a surface.
type Overlay struct {
	Selector string
	Label    string
}

// Surface is the receiving end of the channel: it keeps at most one
// highlight and never fails on bad input.
type Surface struct {
	mu      sync.Mutex
	exists  func(selector string) bool
	warn    func(msg string, args ...any)
	current *Overlay
}

// SurfaceOption configures a Surface.
type SurfaceOption func(*Surface)

// WithLookup sets how the surface checks that an element exists.
// Without it every selector resolves.
func WithLookup(exists func(selector string) bool) SurfaceOption {
	return func(s *Surface) { s.exists = exists }
}

// WithWarn replaces the warning sink.
func WithWarn(warn func(msg string, args ...any)) SurfaceOption {
	return func(s *Surface) { s.warn = warn }
}

// NewSurface creates an empty surface.
func NewSurface(opts ...SurfaceOption) *Surface {
	s := &Surface{
		exists: func(string) bool { return true },
		warn:   logging.Warn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle applies one raw message. It reports whether the overlay changed.
func (s *Surface) Handle(data []byte) bool {
	m, ok := Decode(data)
	if !ok {
		return false
	}
	return s.Apply(m)
}

// Apply applies a decoded message.
func (s *Surface) Apply(m Message) bool {
	if m.Source != Source {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch m.Type {
	case TypeClear:
		return s.clearLocked()
	case TypeHighlight:
		if m.Payload == nil {
			return false
		}
		changed := s.clearLocked()
		if !s.exists(m.Payload.Selector) {
			s.warn("annotation target not found", "selector", m.Payload.Selector)
			return changed
		}
		s.current = &Overlay{Selector: m.Payload.Selector, Label: m.Payload.ActionType}
		return true
	}
	return false
}

// Current returns the visible overlay, if any.
func (s *Surface) Current() (Overlay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Overlay{}, false
	}
	return *s.current, true
}

func (s *Surface) clearLocked() bool {
	if s.current == nil {
		return false
	}
	s.current = nil
	return true
}
