// Package correlator tracks backend-initiated requests that are waiting for
// exactly one response from the bridge.
package correlator

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/chatbridge/errors"
)

// Kind says which protocol flow a pending request belongs to.
type Kind string

const (
	EditorQuery   Kind = "editor_query"
	ShellApproval Kind = "shell_approval"
)

// Pending is one outstanding request. Data holds flow-specific state such as
// the command awaiting approval.
type Pending struct {
	ID         string
	Kind       Kind
	Generation uint64
	Data       any
	Registered time.Time
}

// Table holds outstanding requests keyed by correlation id. Each entry can be
// resolved at most once.
type Table struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry
}

type entry struct {
	seq     uint64
	pending *Pending
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Register records a new outstanding request. It fails with an invalid query
// error if id is empty or already outstanding.
func (t *Table) Register(id string, kind Kind, generation uint64, data any) (*Pending, error) {
	if id == "" {
		return nil, errors.Typed(errors.InvalidQuery, "missing correlation id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return nil, errors.Typed(errors.InvalidQuery, "duplicate correlation id "+id)
	}
	t.seq++
	p := &Pending{ID: id, Kind: kind, Generation: generation, Data: data, Registered: time.Now()}
	t.entries[id] = &entry{seq: t.seq, pending: p}
	return p, nil
}

// Resolve removes and returns the request with the given id and kind. The
// second call for the same id reports false, which is how duplicate responses
// are ignored.
func (t *Table) Resolve(id string, kind Kind) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.pending.Kind != kind {
		return nil, false
	}
	delete(t.entries, id)
	return e.pending, true
}

// Get returns the outstanding request without resolving it.
func (t *Table) Get(id string) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return e.pending, true
}

// Abandon drops every outstanding request without resolving it and returns
// them in registration order.
func (t *Table) Abandon() []*Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := t.sortedLocked("")
	t.entries = make(map[string]*entry)
	return dropped
}

// Outstanding lists requests of the given kind in registration order. An empty
// kind lists everything.
func (t *Table) Outstanding(kind Kind) []*Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked(kind)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) sortedLocked(kind Kind) []*Pending {
	es := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		if kind == "" || e.pending.Kind == kind {
			es = append(es, e)
		}
	}
	slices.SortFunc(es, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]*Pending, len(es))
	for i, e := range es {
		out[i] = e.pending
	}
	return out
}

// NewID returns a fresh opaque correlation id.
func NewID() string {
	return uuid.NewString()
}
