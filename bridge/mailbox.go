package bridge

import "sync"

// mailbox is an unbounded FIFO of closures consumed by the bridge loop.
// Posting never blocks.
type mailbox struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// post enqueues fn. It reports false once the mailbox is closed.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// take blocks until work is queued or the mailbox is closed. It returns the
// queued closures and whether the mailbox is still open.
func (m *mailbox) take() ([]func(), bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 || m.closed {
			items := m.items
			m.items = nil
			open := !m.closed
			m.mu.Unlock()
			return items, open
		}
		m.mu.Unlock()
		<-m.signal
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}
