package gatt

import "sync"

// subscriptions maps value handles to the callbacks of active
// subscriptions. The zero value is ready to use.
type subscriptions struct {
	mu  sync.RWMutex
	fns map[uint16]func(value []byte)
}

func (s *subscriptions) set(h uint16, f func(value []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = map[uint16]func(value []byte){}
	}
	s.fns[h] = f
}

func (s *subscriptions) remove(h uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fns, h)
}

// lookup returns nil if nothing is subscribed at h.
func (s *subscriptions) lookup(h uint16) func(value []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fns[h]
}

// clear drops every subscription.
func (s *subscriptions) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = nil
}
