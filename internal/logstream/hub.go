package logstream

import "sync"

// Hub fans deploy log lines out to live subscribers. It keeps every line of
// a run so late subscribers can replay it before following along. Slow
// consumers have lines dropped rather than blocking the pipeline.
type Hub struct {
	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	lines []string
	subs  map[chan string]struct{}
	done  bool
}

func NewHub() *Hub {
	return &Hub{
		runs: make(map[string]*run),
	}
}

func (h *Hub) get(runID string) *run {
	r := h.runs[runID]
	if r == nil {
		r = &run{subs: make(map[chan string]struct{})}
		h.runs[runID] = r
	}
	return r
}

// Subscribe returns the lines published so far, a channel for the lines that
// follow and an unsubscribe function. The channel is buffered (64 lines) and
// is closed when the run finishes; for a finished run it is already closed.
func (h *Hub) Subscribe(runID string) ([]string, <-chan string, func()) {
	ch := make(chan string, 64)
	h.mu.Lock()
	r := h.get(runID)
	backlog := append([]string(nil), r.lines...)
	if r.done {
		close(ch)
	} else {
		r.subs[ch] = struct{}{}
	}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		delete(r.subs, ch)
		h.mu.Unlock()
	}
	return backlog, ch, unsub
}

// Publish records a line and sends it to all subscribers of the run.
// Non-blocking: drops lines for slow consumers. Lines published after Close
// are ignored.
func (h *Hub) Publish(runID, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.get(runID)
	if r.done {
		return
	}
	r.lines = append(r.lines, line)
	for ch := range r.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close closes all subscriber channels for the run, signaling that the deploy
// has finished. The backlog is kept for later subscribers.
func (h *Hub) Close(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.get(runID)
	if r.done {
		return
	}
	r.done = true
	for ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

// Done reports whether Close was called for the run.
func (h *Hub) Done(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.runs[runID]
	return r != nil && r.done
}
