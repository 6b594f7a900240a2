package event

import "testing"

func TestHubDeliversInOrderAndDisposes(t *testing.T) {
	var h Hub[int]
	var got []string

	d1 := h.Subscribe(func(v int) { got = append(got, "a") })
	h.Subscribe(func(v int) { got = append(got, "b") })

	h.Emit(1)
	d1()
	d1()
	h.Emit(2)

	want := []string{"a", "b", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}

func TestDisposeDuringEmitDoesNotSkipObservers(t *testing.T) {
	var h Hub[string]
	calls := 0
	var d Disposer
	d = h.Subscribe(func(string) { calls++; d() })
	h.Subscribe(func(string) { calls++ })

	h.Emit("x")
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	h.Emit("y")
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 after self-disposal", calls)
	}
}

func TestDisposersReleasesAll(t *testing.T) {
	var h Hub[int]
	var ds Disposers
	ds.Add(h.Subscribe(func(int) {}))
	ds.Add(h.Subscribe(func(int) {}))
	ds.Dispose()
	if h.Len() != 0 {
		t.Fatalf("Len() = %d after Dispose, want 0", h.Len())
	}
	ds.Dispose()
}
