package executor

import "sync"

// CallStack tracks the executable names currently being dispatched through
// command references.
type CallStack struct {
	mu    sync.Mutex
	names []string
}

func NewCallStack(names ...string) *CallStack {
	return &CallStack{names: append([]string(nil), names...)}
}

// Enter pushes name unless it is already on the stack. The returned leave
// func pops it and must be called on every exit path.
func (s *CallStack) Enter(name string) (leave func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.names {
		if n == name {
			return nil, circularError(name)
		}
	}
	s.names = append(s.names, name)
	depth := len(s.names)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.names) >= depth {
			s.names = s.names[:depth-1]
		}
	}, nil
}

func (s *CallStack) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

func (s *CallStack) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

func (s *CallStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}
