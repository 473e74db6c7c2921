package flight

import "sync/atomic"

// SetpointStore holds the current setpoint. Loads are wait-free and always
// see a complete value.
type SetpointStore struct {
	cur     atomic.Pointer[Setpoint]
	claimed atomic.Bool
}

// NewSetpointStore returns a store holding the zero setpoint.
func NewSetpointStore() *SetpointStore {
	s := &SetpointStore{}
	s.cur.Store(&Setpoint{})
	return s
}

// Load returns a copy of the current setpoint.
func (s *SetpointStore) Load() Setpoint {
	return *s.cur.Load()
}

// Claim hands out the only writer for this store.
func (s *SetpointStore) Claim() (*SetpointWriter, error) {
	if !s.claimed.CompareAndSwap(false, true) {
		return nil, ErrWriterClaimed
	}
	return &SetpointWriter{store: s}, nil
}

// SetpointWriter is the single mutator of a SetpointStore.
type SetpointWriter struct {
	store *SetpointStore
}

// Store publishes a clamped copy of sp.
func (w *SetpointWriter) Store(sp Setpoint) {
	c := sp.Clamp()
	w.store.cur.Store(&c)
}

// Update applies fn to the current value and publishes the result.
func (w *SetpointWriter) Update(fn func(Setpoint) Setpoint) Setpoint {
	next := fn(w.store.Load()).Clamp()
	w.store.cur.Store(&next)
	return next
}

// Load returns the value last published.
func (w *SetpointWriter) Load() Setpoint {
	return w.store.Load()
}
