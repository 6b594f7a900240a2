package correlator

import (
	"testing"

	"github.com/m4xw311/chatbridge/errors"
)

func TestRegisterRejectsMissingAndDuplicateIDs(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Register("", EditorQuery, 1, nil); errors.KindOf(err) != errors.InvalidQuery {
		t.Fatalf("Register(\"\") = %v, want an invalid query error", err)
	}
	if _, err := tbl.Register("q1", EditorQuery, 1, nil); err != nil {
		t.Fatalf("Register(q1) failed: %v", err)
	}
	if _, err := tbl.Register("q1", ShellApproval, 1, nil); errors.KindOf(err) != errors.InvalidQuery {
		t.Fatalf("duplicate Register(q1) = %v, want an invalid query error", err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

func TestResolveIsSingleUse(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Register("a1", ShellApproval, 2, "ls"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, ok := tbl.Resolve("a1", EditorQuery); ok {
		t.Fatal("Resolve with the wrong kind succeeded")
	}
	p, ok := tbl.Resolve("a1", ShellApproval)
	if !ok {
		t.Fatal("first Resolve failed")
	}
	if p.Data != "ls" || p.Generation != 2 {
		t.Errorf("resolved %+v", p)
	}
	if _, ok := tbl.Resolve("a1", ShellApproval); ok {
		t.Fatal("second Resolve succeeded")
	}

	// Once resolved, the id may be reused.
	if _, err := tbl.Register("a1", ShellApproval, 2, "pwd"); err != nil {
		t.Fatalf("re-Register after resolve: %v", err)
	}
}

func TestAbandonAndOutstandingKeepRegistrationOrder(t *testing.T) {
	tbl := NewTable()
	ids := []string{"z", "a", "m", "b"}
	for i, id := range ids {
		kind := EditorQuery
		if i%2 == 1 {
			kind = ShellApproval
		}
		if _, err := tbl.Register(id, kind, 1, nil); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}

	approvals := tbl.Outstanding(ShellApproval)
	if len(approvals) != 2 || approvals[0].ID != "a" || approvals[1].ID != "b" {
		t.Fatalf("Outstanding(ShellApproval) = %+v", approvals)
	}

	dropped := tbl.Abandon()
	if len(dropped) != len(ids) {
		t.Fatalf("Abandon dropped %d, want %d", len(dropped), len(ids))
	}
	for i, p := range dropped {
		if p.ID != ids[i] {
			t.Fatalf("Abandon order = %v at %d, want %v", p.ID, i, ids[i])
		}
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d after Abandon", tbl.Len())
	}
	if _, ok := tbl.Resolve("z", EditorQuery); ok {
		t.Fatal("resolved an abandoned request")
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if id == "" || seen[id] {
			t.Fatalf("NewID returned %q twice or empty", id)
		}
		seen[id] = true
	}
}
