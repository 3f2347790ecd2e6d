package batch

import "sync"

// Mode is the process-wide "batch apply in progress" flag. Other components
// read it to coalesce re-renders while a group-wide apply is streaming. The
// flag is not cleared by the orchestrator itself: apply is fire-and-forget
// per target, so the flag clears when the last outstanding dispatch reports
// completion after the fan-out loop has finished.
type Mode struct {
	mu          sync.Mutex
	active      bool
	running     bool
	outstanding int
}

// NewMode creates an inactive mode flag.
func NewMode() *Mode {
	return &Mode{}
}

// Active reports whether a batch apply is in progress.
func (m *Mode) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// enter raises the flag for a new apply run. The running bit keeps the flag
// up until settle, so a dispatch completing before the fan-out loop has
// reached the remaining targets cannot drop it early.
func (m *Mode) enter() {
	m.mu.Lock()
	m.active = true
	m.running = true
	m.mu.Unlock()
}

// add records one outstanding dispatch.
func (m *Mode) add() {
	m.mu.Lock()
	m.outstanding++
	m.mu.Unlock()
}

// done records completion of one dispatch, clearing the flag when it was the
// last one and the fan-out loop has settled. A late callback arriving after
// ForceExit finds nothing to decrement and no-ops.
func (m *Mode) done() {
	m.mu.Lock()
	if m.outstanding > 0 {
		m.outstanding--
		if m.outstanding == 0 && !m.running {
			m.active = false
		}
	}
	m.mu.Unlock()
}

// settle marks the end of the fan-out loop, clearing the flag if nothing is
// outstanding anymore, e.g. an apply where every target was already up to
// date or every stream finished before the loop did.
func (m *Mode) settle() {
	m.mu.Lock()
	m.running = false
	if m.outstanding == 0 {
		m.active = false
	}
	m.mu.Unlock()
}

// ForceExit unconditionally clears the flag and forgets outstanding
// dispatches. Used on unexpected failure so the UI cannot stay stuck in a
// reduced-rendering state; a late completion callback then no-ops.
func (m *Mode) ForceExit() {
	m.mu.Lock()
	m.active = false
	m.running = false
	m.outstanding = 0
	m.mu.Unlock()
}
