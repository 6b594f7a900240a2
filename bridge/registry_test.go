package bridge

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistry(t *testing.T) {
	var made []string
	r := NewRegistry(func(id string) Options {
		made = append(made, id)
		return Options{Log: zerolog.Nop()}
	})
	ctx := context.Background()

	a, created := r.Open("window-1")
	if !created {
		t.Fatal("first Open did not create a bridge")
	}
	again, created := r.Open("window-1")
	if created || again != a {
		t.Fatal("second Open did not return the existing bridge")
	}
	r.Open("window-2")

	if got := r.IDs(); !reflect.DeepEqual(got, []string{"window-1", "window-2"}) {
		t.Fatalf("IDs = %v", got)
	}
	if !reflect.DeepEqual(made, []string{"window-1", "window-2"}) {
		t.Fatalf("factory calls = %v", made)
	}

	if err := r.Close(ctx, "window-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := r.Get("window-1"); ok {
		t.Fatal("closed bridge is still registered")
	}
	if err := a.Send("hello"); err != ErrClosed {
		t.Fatalf("Send on closed bridge = %v, want ErrClosed", err)
	}
	if err := r.Close(ctx, "unknown"); err != nil {
		t.Fatalf("Close(unknown) = %v", err)
	}

	if err := r.CloseAll(ctx); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if len(r.IDs()) != 0 {
		t.Fatalf("IDs after CloseAll = %v", r.IDs())
	}
}
